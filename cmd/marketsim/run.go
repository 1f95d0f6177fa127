package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/asyncexchange/params"
	"github.com/uhyunpark/asyncexchange/pkg/api"
	"github.com/uhyunpark/asyncexchange/pkg/app/agent"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/asyncexchange/pkg/app/session"
	"github.com/uhyunpark/asyncexchange/pkg/storage"
	"github.com/uhyunpark/asyncexchange/pkg/telemetry"
	"github.com/uhyunpark/asyncexchange/pkg/util"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run random traders and market makers against one exchange",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "traders", Usage: "number of random traders"},
			&cli.IntFlag{Name: "market-makers", Usage: "number of market makers"},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long (0 runs until interrupted)"},
			&cli.Uint64Flag{Name: "seed", Usage: "seed agent randomness for reproducible runs"},
			&cli.StringFlag{Name: "api-addr", Usage: "serve the read-only API on this address"},
			&cli.BoolFlag{Name: "no-telemetry", Usage: "disable the event store"},
			&cli.BoolFlag{Name: "debug", Usage: "log at debug level"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := params.LoadFromEnv(c.String("env"))
			if err != nil {
				return err
			}
			applyFlags(c, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(c.Context, cfg)
		},
	}
}

func applyFlags(c *cli.Context, cfg *params.Config) {
	if c.IsSet("traders") {
		cfg.Session.Traders = c.Int("traders")
	}
	if c.IsSet("market-makers") {
		cfg.Session.MarketMakers = c.Int("market-makers")
	}
	if c.IsSet("duration") {
		cfg.Session.Duration = c.Duration("duration")
	}
	if c.IsSet("seed") {
		cfg.Session.Seed = c.Uint64("seed")
	}
	if c.IsSet("api-addr") {
		cfg.API.Addr = c.String("api-addr")
	}
	if c.Bool("no-telemetry") {
		cfg.Telemetry.Enabled = false
	}
	if c.Bool("debug") {
		cfg.Log.Debug = true
	}
}

func newLogger(cfg params.Log) (*zap.Logger, func(), error) {
	if cfg.File != "" {
		return util.NewLoggerWithFile(cfg.File, cfg.Debug)
	}
	logger, err := util.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func run(parent context.Context, cfg params.Config) error {
	logger, cleanup, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer cleanup()
	sugar := logger.Sugar()

	runID := uuid.NewString()
	sugar = sugar.With("run", runID)
	sugar.Infow("config_loaded",
		"traders", cfg.Session.Traders,
		"market_makers", cfg.Session.MarketMakers,
		"duration", cfg.Session.Duration,
		"telemetry", cfg.Telemetry.Enabled,
		"kafka_brokers", cfg.Telemetry.KafkaBrokers,
		"api_addr", cfg.API.Addr,
	)

	// ---- Telemetry ----
	var (
		sinks   telemetry.Multi
		writers telemetry.MultiWriter
		store   *storage.EventStore
	)
	if cfg.Telemetry.Enabled {
		store, err = storage.OpenEventStore(cfg.Telemetry.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		writers = append(writers, store)
	}
	if len(cfg.Telemetry.KafkaBrokers) > 0 {
		kw := telemetry.NewKafkaWriter(cfg.Telemetry.KafkaBrokers, cfg.Telemetry.KafkaTopic)
		defer kw.Close()
		writers = append(writers, kw)
	}
	if len(writers) > 0 {
		sinks = append(sinks, telemetry.NewBatcher(writers, telemetry.BatcherConfig{
			BatchSize:     cfg.Telemetry.BatchSize,
			FlushInterval: cfg.Telemetry.FlushInterval,
			BufferSize:    cfg.Telemetry.BufferSize,
		}, sugar.Named("telemetry")))
	}
	var hub *api.Hub
	if cfg.API.Addr != "" {
		hub = api.NewHub(sugar.Named("ws"))
		sinks = append(sinks, hub)
	}
	sink := telemetry.Tagged{Sink: sinks, Tags: telemetry.Fields{"run": runID}}

	// ---- Exchange and agents ----
	ex := orderbook.NewExchange(
		orderbook.WithSink(sink),
		orderbook.WithLogger(sugar.Named("exchange")),
	)
	agents, reg, err := buildAgents(cfg, sugar)
	if err != nil {
		return err
	}
	sess := session.New(ex, agents,
		session.WithLogger(sugar.Named("session")),
		session.WithSink(sink),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Session.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Session.Duration)
		defer cancel()
	}

	// stopped once the session has run its shutdown hook
	apiCtx, stopAPI := context.WithCancel(context.Background())
	defer stopAPI()

	g, gctx := errgroup.WithContext(ctx)
	if hub != nil {
		var events api.EventReader
		if store != nil {
			events = store
		}
		server := api.NewServer(ex, events, hub, sugar.Named("api"))
		g.Go(func() error {
			return server.Start(apiCtx, cfg.API.Addr)
		})
	}
	g.Go(func() error {
		defer stopAPI()
		return sess.Run(gctx)
	})
	err = g.Wait()

	report(sugar, ex, reg)
	return err
}

func buildAgents(cfg params.Config, log *zap.SugaredLogger) ([]session.Agent, *account.Registry, error) {
	reg := account.NewRegistry(nil)
	seed := cfg.Session.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	log.Infow("agents_seeded", "seed", seed)

	var agents []session.Agent
	for i := 0; i < cfg.Session.Traders; i++ {
		acc, err := reg.Create(cfg.Session.InitialMoney, cfg.Session.InitialStocks)
		if err != nil {
			return nil, nil, fmt.Errorf("create trader: %w", err)
		}
		agents = append(agents, agent.NewRandomTrader(acc, cfg.Session.MaxSleep,
			agent.WithRand(rand.New(rand.NewPCG(seed, uint64(acc.ID())))),
			agent.WithLogger(log.Named("trader")),
		))
	}
	mmCfg := agent.MarketMakerConfig{
		Interval: cfg.MarketMaker.Interval,
		Spread:   cfg.MarketMaker.Spread,
		MaxSize:  cfg.MarketMaker.MaxSize,
	}
	for i := 0; i < cfg.Session.MarketMakers; i++ {
		acc, err := reg.Create(cfg.Session.InitialMoney, cfg.Session.InitialStocks)
		if err != nil {
			return nil, nil, fmt.Errorf("create market maker: %w", err)
		}
		agents = append(agents, agent.NewMarketMaker(acc, mmCfg,
			agent.WithRand(rand.New(rand.NewPCG(seed, uint64(acc.ID())))),
			agent.WithLogger(log.Named("market_maker")),
		))
	}
	return agents, reg, nil
}

func report(log *zap.SugaredLogger, ex *orderbook.Exchange, reg *account.Registry) {
	money, stocks := reg.Totals()
	bid, hasBid := ex.BestBid()
	ask, hasAsk := ex.BestAsk()
	log.Infow("session_report",
		"trades", ex.TradeCount(),
		"last_price", ex.LastPrice(),
		"best_bid", bid, "has_bid", hasBid,
		"best_ask", ask, "has_ask", hasAsk,
		"total_money", money,
		"total_stocks", stocks,
	)
	for _, acc := range reg.List() {
		m, s := acc.Balances()
		log.Debugw("trader_final", "trader", acc.ID(), "money", m, "stocks", s)
	}
}
