package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uhyunpark/asyncexchange/pkg/app/agent"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/sequence"
	"github.com/uhyunpark/asyncexchange/pkg/telemetry"
	"github.com/uhyunpark/asyncexchange/pkg/util"
)

type countingSink struct {
	mu     sync.Mutex
	events []string
	states []any
	closed int
}

func (s *countingSink) SendEvent(recordType string, fields telemetry.Fields) {
	s.mu.Lock()
	s.events = append(s.events, recordType)
	if recordType == telemetry.MeasurementSession {
		s.states = append(s.states, fields["state"])
	}
	s.mu.Unlock()
}

func (s *countingSink) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// tickAgent counts loop iterations until cancelled, or fails after failAfter
// ticks when failAfter > 0.
type tickAgent struct {
	*agent.Trader
	ticks     atomic.Int64
	exited    atomic.Bool
	failAfter int64
}

func (a *tickAgent) Run(ctx context.Context) error {
	defer a.exited.Store(true)
	for {
		if err := util.Sleep(ctx, util.RealClock{}, time.Millisecond); err != nil {
			return err
		}
		if n := a.ticks.Add(1); a.failAfter > 0 && n >= a.failAfter {
			return errors.New("strategy blew up")
		}
	}
}

func newTickAgents(t *testing.T, reg *account.Registry, n int) []*tickAgent {
	t.Helper()
	var out []*tickAgent
	for i := 0; i < n; i++ {
		acc, err := reg.CreateDefault()
		if err != nil {
			t.Fatalf("create account: %v", err)
		}
		out = append(out, &tickAgent{Trader: agent.NewTrader(acc)})
	}
	return out
}

func asAgents(in []*tickAgent) []Agent {
	out := make([]Agent, len(in))
	for i, a := range in {
		out[i] = a
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunUntilContextCancelled(t *testing.T) {
	sink := &countingSink{}
	ex := orderbook.NewExchange(orderbook.WithSink(sink))
	agents := newTickAgents(t, account.NewRegistry(nil), 3)
	s := New(ex, asAgents(agents))

	if got := len(ex.Traders()); got != 3 {
		t.Fatalf("registered traders = %d, want 3", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		for _, a := range agents {
			if a.ticks.Load() < 3 {
				return false
			}
		}
		return true
	})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for i, a := range agents {
		if !a.exited.Load() {
			t.Errorf("agent %d still running", i)
		}
	}
	if sink.closedCount() != 1 {
		t.Errorf("exchange shutdown hook ran %d times, want 1", sink.closedCount())
	}
}

func TestShutdownWhileRunning(t *testing.T) {
	sink := &countingSink{}
	ex := orderbook.NewExchange(orderbook.WithSink(sink))
	reg := account.NewRegistry(nil)
	agents := newTickAgents(t, reg, 2)
	s := New(ex, asAgents(agents))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, func() bool { return agents[0].ticks.Load() > 0 && agents[1].ticks.Load() > 0 })
	if err := s.Shutdown("interrupt"); err != nil {
		t.Fatalf("Shutdown err = %v", err)
	}
	if err := s.Shutdown("interrupt"); err != nil {
		t.Fatalf("second Shutdown err = %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run err = %v, want nil", err)
	}
	if sink.closedCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closedCount())
	}

	late := newTickAgents(t, reg, 1)[0]
	if err := s.Add(late); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after shutdown err = %v, want ErrClosed", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after shutdown err = %v, want ErrClosed", err)
	}
}

func TestShutdownBeforeRunStillFlushes(t *testing.T) {
	sink := &countingSink{}
	ex := orderbook.NewExchange(orderbook.WithSink(sink))
	s := New(ex, asAgents(newTickAgents(t, account.NewRegistry(nil), 1)))

	if err := s.Shutdown("terminated"); err != nil {
		t.Fatalf("Shutdown err = %v", err)
	}
	if sink.closedCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closedCount())
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run err = %v, want ErrClosed", err)
	}
}

func TestNewRegistersEveryAgent(t *testing.T) {
	ex := orderbook.NewExchange()
	reg := account.NewRegistry(nil)
	agents := newTickAgents(t, reg, 3)
	s := New(ex, asAgents(agents))

	if got := len(s.Agents()); got != 3 {
		t.Fatalf("agents = %d, want 3", got)
	}
	traders := ex.Traders()
	if len(traders) != 3 {
		t.Fatalf("registered traders = %d, want 3", len(traders))
	}
	for i, a := range agents {
		if traders[i] != a.Account() {
			t.Errorf("trader %d = %d, want %d", i, traders[i].ID(), a.Account().ID())
		}
	}

	if err := s.Shutdown("done"); err != nil {
		t.Fatalf("Shutdown err = %v", err)
	}
	extra := newTickAgents(t, reg, 1)[0]
	if err := s.Add(extra); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after shutdown err = %v, want ErrClosed", err)
	}
	if len(ex.Traders()) != 3 {
		t.Errorf("closed session registered another trader")
	}
}

func TestAgentFailureStopsSession(t *testing.T) {
	sink := &countingSink{}
	ex := orderbook.NewExchange(orderbook.WithSink(sink))
	agents := newTickAgents(t, account.NewRegistry(nil), 3)
	agents[1].failAfter = 5
	s := New(ex, asAgents(agents))

	err := s.Run(context.Background())
	if err == nil || err.Error() == "" {
		t.Fatal("Run err = nil, want agent failure")
	}
	for i, a := range agents {
		if !a.exited.Load() {
			t.Errorf("agent %d still running", i)
		}
	}
	if sink.closedCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closedCount())
	}
}

// TestRandomMarketConservesAssets runs real strategies concurrently and
// checks the ledger invariants afterwards.
func TestRandomMarketConservesAssets(t *testing.T) {
	sink := &countingSink{}
	ex := orderbook.NewExchange(orderbook.WithSink(sink), orderbook.WithIDs(sequence.New(0)))
	reg := account.NewRegistry(sequence.New(0))

	var agents []Agent
	for i := 0; i < 10; i++ {
		acc, err := reg.Create(300, 10)
		if err != nil {
			t.Fatal(err)
		}
		rng := rand.New(rand.NewPCG(uint64(i), 42))
		agents = append(agents, agent.NewRandomTrader(acc, time.Millisecond,
			agent.WithRand(rng), agent.WithClock(util.InstantClock{})))
	}
	mmAcc, err := reg.Create(1000, 50)
	if err != nil {
		t.Fatal(err)
	}
	cfg := agent.DefaultMarketMakerConfig()
	cfg.Interval = time.Millisecond
	agents = append(agents, agent.NewMarketMaker(mmAcc, cfg))

	wantMoney, wantStocks := reg.Totals()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := New(ex, agents).Run(ctx); err != nil {
		t.Fatalf("Run err = %v", err)
	}

	money, stocks := reg.Totals()
	if money != wantMoney || stocks != wantStocks {
		t.Errorf("totals = (%d, %d), want (%d, %d)", money, stocks, wantMoney, wantStocks)
	}
	for _, acc := range reg.List() {
		if err := acc.Validate(); err != nil {
			t.Error(err)
		}
	}
	if ex.TradeCount() == 0 {
		t.Error("no trades executed")
	}
	if bid, ok := ex.BestBid(); ok {
		if ask, ok := ex.BestAsk(); ok && bid >= ask {
			t.Errorf("book crossed: %d >= %d", bid, ask)
		}
	}
}

func TestLifecycleEventsPrecedeFlush(t *testing.T) {
	sink := &countingSink{}
	ex := orderbook.NewExchange(orderbook.WithSink(sink))
	s := New(ex, asAgents(newTickAgents(t, account.NewRegistry(nil), 2)), WithSink(sink))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.states) != 2 || sink.states[0] != "started" || sink.states[1] != "stopped" {
		t.Errorf("session states = %v, want [started stopped]", sink.states)
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closed)
	}
}
