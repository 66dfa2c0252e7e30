// Package config loads and validates the engine's environment configuration:
// the broker bearer credential is required, every trading parameter has a
// documented default so the engine is runnable out of the box in paper mode.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the fully resolved, validated engine configuration.
type Config struct {
	// BrokerAuthToken is the bearer credential used to read from the feed
	// and place live orders; the engine never mints or refreshes it.
	BrokerAuthToken string `validate:"required"`
	BrokerFeedURL   string `validate:"required,url"`

	// Mode selects the order backend: "paper" or "live".
	Mode string `validate:"required,oneof=paper live"`

	RiskFreeRate   float64 `validate:"gte=0,lte=1"`
	CandleInterval time.Duration `validate:"required"`
	StrikeStep     float64 `validate:"gt=0"`
	PCRStrikeRange float64 `validate:"gt=0"`
	SignalCooldown time.Duration `validate:"required"`

	DailyLossLimitPct      float64 `validate:"gt=0,lte=1"`
	MaxConcurrentPositions int     `validate:"gt=0"`
	RiskPerTradePct        float64 `validate:"gt=0,lte=1"`
	StopLossPct            float64 `validate:"gt=0,lte=1"`
	TargetPct              float64 `validate:"gt=0"`
	MinQtyLots             int     `validate:"gt=0"`

	TrailActivatePct  float64 `validate:"gt=0,lte=1"`
	TrailLockFraction float64 `validate:"gt=0,lte=1"`
	SquareOffWindow   time.Duration `validate:"required"`
	WarmupWindow      time.Duration `validate:"required"`

	RiskPolicyPath string

	PaperStartingCash float64 `validate:"gt=0"`
	DataDir           string `validate:"required"`

	DatabaseDSN string // optional; enables the Postgres trade mirror when set
	RedisAddr   string // optional; enables snapshot fan-out when set
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads .env (if present, missing is not an error) and the process
// environment, applies defaults, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file found, relying on process environment: %v", err)
	}

	cfg := &Config{
		BrokerAuthToken:        os.Getenv("BROKER_AUTH_TOKEN"),
		BrokerFeedURL:          getString("BROKER_FEED_URL", "wss://api.upstox.com/v3/feed/market-data-feed"),
		Mode:                   getString("ENGINE_MODE", "paper"),
		RiskFreeRate:           getFloat("RISK_FREE_RATE", 0.06),
		CandleInterval:         getDuration("CANDLE_INTERVAL", 5*time.Minute),
		StrikeStep:             getFloat("STRIKE_STEP", 50),
		PCRStrikeRange:         getFloat("PCR_STRIKE_RANGE", 500),
		SignalCooldown:         getDuration("SIGNAL_COOLDOWN", 120*time.Second),
		DailyLossLimitPct:      getFloat("DAILY_LOSS_LIMIT_PCT", 0.03),
		MaxConcurrentPositions: getInt("MAX_CONCURRENT_POSITIONS", 1),
		RiskPerTradePct:        getFloat("RISK_PER_TRADE_PCT", 0.01),
		StopLossPct:            getFloat("STOP_LOSS_PCT", 0.30),
		TargetPct:              getFloat("TARGET_PCT", 0.60),
		MinQtyLots:             getInt("MIN_QTY_LOTS", 1),
		TrailActivatePct:       getFloat("TRAIL_ACTIVATE_PCT", 0.20),
		TrailLockFraction:      getFloat("TRAIL_LOCK_FRACTION", 0.5),
		SquareOffWindow:        getDuration("SQUARE_OFF_WINDOW", 10*time.Minute),
		WarmupWindow:           getDuration("WARMUP_WINDOW", 15*time.Minute),
		RiskPolicyPath:         getString("RISK_POLICY_PATH", ""),
		PaperStartingCash:      getFloat("PAPER_STARTING_CASH", 1_000_000),
		DataDir:                getString("DATA_DIR", "./data"),
		DatabaseDSN:            os.Getenv("DATABASE_DSN"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid float for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return f
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return i
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return d
}

// IsLive reports whether the configured mode routes orders to the live
// broker backend rather than the paper simulator.
func (c *Config) IsLive() bool {
	return strings.EqualFold(c.Mode, "live")
}
