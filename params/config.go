package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	str2duration "github.com/xhit/go-str2duration/v2"
)

type Session struct {
	Traders       int
	MarketMakers  int
	InitialMoney  int64
	InitialStocks int64
	// MaxSleep caps the random pause between two orders of a random trader.
	MaxSleep time.Duration
	// Duration stops the session after this long; 0 runs until interrupted.
	Duration time.Duration
	// Seed makes agent randomness reproducible; 0 seeds from the OS.
	Seed uint64
}

type MarketMaker struct {
	Interval time.Duration
	Spread   int64
	MaxSize  int64
}

type Telemetry struct {
	Enabled       bool
	DBPath        string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	KafkaBrokers  []string // empty disables the Kafka writer
	KafkaTopic    string
}

type API struct {
	// Addr of the read-only HTTP API; empty disables it.
	Addr string
}

type Log struct {
	File  string // also write logs here when set
	Debug bool
}

type Config struct {
	Session     Session
	MarketMaker MarketMaker
	Telemetry   Telemetry
	API         API
	Log         Log
}

func Default() Config {
	return Config{
		Session: Session{
			Traders:       10,
			MarketMakers:  1,
			InitialMoney:  100,
			InitialStocks: 10,
			MaxSleep:      time.Second,
		},
		MarketMaker: MarketMaker{
			Interval: time.Second,
			Spread:   1,
			MaxSize:  5,
		},
		Telemetry: Telemetry{
			Enabled:       true,
			DBPath:        "data/events",
			BatchSize:     1000,
			FlushInterval: time.Second,
			BufferSize:    4096,
			KafkaTopic:    "marketsim.events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			// accepts days and weeks too, e.g. "1d12h"
			d, err := str2duration.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setInt("SESSION_TRADERS", &cfg.Session.Traders)
	setInt("SESSION_MARKET_MAKERS", &cfg.Session.MarketMakers)
	setInt64("SESSION_INITIAL_MONEY", &cfg.Session.InitialMoney)
	setInt64("SESSION_INITIAL_STOCKS", &cfg.Session.InitialStocks)
	setDuration("SESSION_MAX_SLEEP", &cfg.Session.MaxSleep)
	setDuration("SESSION_DURATION", &cfg.Session.Duration)
	if v := os.Getenv("SESSION_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SESSION_SEED: %w", err))
		} else {
			cfg.Session.Seed = seed
		}
	}

	setDuration("MM_INTERVAL", &cfg.MarketMaker.Interval)
	setInt64("MM_SPREAD", &cfg.MarketMaker.Spread)
	setInt64("MM_MAX_SIZE", &cfg.MarketMaker.MaxSize)

	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true"
	}
	cfg.Telemetry.DBPath = getEnv("TELEMETRY_DB_PATH", cfg.Telemetry.DBPath)
	setInt("LOG_BATCH_SIZE", &cfg.Telemetry.BatchSize)
	setDuration("TELEMETRY_FLUSH_INTERVAL", &cfg.Telemetry.FlushInterval)
	setInt("TELEMETRY_BUFFER", &cfg.Telemetry.BufferSize)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		// Example: "localhost:9092,localhost:9093"
		cfg.Telemetry.KafkaBrokers = splitList(brokers)
	}
	cfg.Telemetry.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Telemetry.KafkaTopic)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	if v := os.Getenv("LOG_DEBUG"); v != "" {
		cfg.Log.Debug = v == "true"
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid environment: %v", errs)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the simulator cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Session.Traders < 0 || c.Session.MarketMakers < 0:
		return fmt.Errorf("agent counts must not be negative")
	case c.Session.Traders+c.Session.MarketMakers == 0:
		return fmt.Errorf("session needs at least one agent")
	case c.Session.InitialMoney < 0 || c.Session.InitialStocks < 0:
		return fmt.Errorf("initial balances must not be negative")
	case c.Session.MaxSleep < 0 || c.Session.Duration < 0:
		return fmt.Errorf("session durations must not be negative")
	case c.MarketMakers() && (c.MarketMaker.Interval <= 0 || c.MarketMaker.Spread < 0 || c.MarketMaker.MaxSize <= 0):
		return fmt.Errorf("market maker needs a positive interval and size and a non-negative spread")
	case c.Telemetry.BatchSize <= 0:
		return fmt.Errorf("telemetry batch size must be positive")
	}
	return nil
}

// MarketMakers reports whether any market maker is configured.
func (c Config) MarketMakers() bool { return c.Session.MarketMakers > 0 }

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
