package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/telemetry"
)

// ErrClosed is returned when scheduling on a session that has shut down.
var ErrClosed = errors.New("session closed")

// Agent is a trading strategy: a ledger plus a decision loop. Run should
// block until ctx is done and then return ctx.Err() (or nil).
type Agent interface {
	orderbook.Registrant
	Run(ctx context.Context) error
}

// Exchange is what the session needs from the matching engine.
type Exchange interface {
	RegisterTrader(r orderbook.Registrant) orderbook.API
	Shutdown(ctx context.Context) error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithSink reports session lifecycle records. Pass the same sink as the
// exchange: it is flushed by the exchange shutdown hook, after the final
// record is sent.
func WithSink(sink telemetry.Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithShutdownTimeout bounds how long the exchange shutdown hook may take.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Session) { s.shutdownTimeout = d }
}

// Session drives a set of agents concurrently against one exchange.
type Session struct {
	ex   Exchange
	log  *zap.SugaredLogger
	sink telemetry.Sink

	shutdownTimeout time.Duration

	mu      sync.Mutex
	agents  []Agent
	running bool
	closed  bool
	cancel  context.CancelFunc
	reason  string
}

// New creates a session and registers every agent with ex.
func New(ex Exchange, agents []Agent, opts ...Option) *Session {
	s := &Session{
		ex:              ex,
		log:             zap.NewNop().Sugar(),
		sink:            telemetry.Nop{},
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, a := range agents {
		ex.RegisterTrader(a)
	}
	s.agents = append(s.agents, agents...)
	return s
}

// Add registers agent a with the exchange. Agents can only be added before
// the session runs.
func (s *Session) Add(a Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return fmt.Errorf("add agent %d: session already running", a.Account().ID())
	}
	s.ex.RegisterTrader(a)
	s.agents = append(s.agents, a)
	return nil
}

// Agents returns the registered agents.
func (s *Session) Agents() []Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Agent, len(s.agents))
	copy(out, s.agents)
	return out
}

// Run starts every agent loop and blocks until ctx is done, Shutdown is
// called, or an agent fails. All loops are then cancelled and awaited, and
// the exchange shutdown hook runs once. Cancellation is not reported as an
// error; the first agent failure is.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	agents := make([]Agent, len(s.agents))
	copy(agents, s.agents)
	s.mu.Unlock()
	defer cancel()

	s.log.Infow("session_started", "agents", len(agents))
	s.sink.SendEvent(telemetry.MeasurementSession, telemetry.Fields{"state": "started", "agents": len(agents)})
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error {
			err := a.Run(gctx)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("agent %d: %w", a.Account().ID(), err)
		})
	}
	// agents exit only once gctx is done or one of them fails
	runErr := g.Wait()

	s.mu.Lock()
	s.closed = true
	s.running = false
	reason := s.reason
	s.mu.Unlock()

	switch {
	case reason != "":
	case runErr != nil:
		reason = "agent failed"
	case context.Cause(ctx) != nil:
		reason = context.Cause(ctx).Error()
	}
	s.log.Infow("session_shutdown", "reason", reason, "err", runErr)
	s.sink.SendEvent(telemetry.MeasurementSession, telemetry.Fields{
		"state":    "stopped",
		"reason":   reason,
		"duration": time.Since(started).Seconds(),
	})

	if err := s.shutdownExchange(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (s *Session) shutdownExchange() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.ex.Shutdown(ctx); err != nil {
		return fmt.Errorf("exchange shutdown: %w", err)
	}
	return nil
}

// Shutdown cancels every running agent and stops the session from accepting
// new agents or runs. If the session is running, Run returns once the agents
// have exited and runs the exchange hook itself; otherwise Shutdown runs the
// hook directly. Calling Shutdown more than once is harmless.
func (s *Session) Shutdown(reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.reason = reason
	running := s.running
	if running {
		s.cancel()
	}
	s.mu.Unlock()

	s.log.Infow("session_shutdown_requested", "reason", reason, "running", running)
	if running {
		return nil
	}
	return s.shutdownExchange()
}
