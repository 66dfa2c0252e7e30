// Command engine boots the intraday options trading engine for one
// underlying symbol (Nifty 50 index options) and runs it until the
// process receives an interrupt.
package main

import (
	"context"
	"log"
	"os"
	osignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"nifty-options-engine/internal/candle"
	"nifty-options-engine/internal/config"
	"nifty-options-engine/internal/domain"
	"nifty-options-engine/internal/feed"
	"nifty-options-engine/internal/greeks"
	"nifty-options-engine/internal/indicators"
	"nifty-options-engine/internal/orchestrator"
	"nifty-options-engine/internal/orders"
	"nifty-options-engine/internal/pcr"
	"nifty-options-engine/internal/position"
	"nifty-options-engine/internal/publish"
	"nifty-options-engine/internal/registry"
	"nifty-options-engine/internal/signal"
	"nifty-options-engine/libs/database"
	"nifty-options-engine/libs/observability"
	"nifty-options-engine/libs/risk"
	clockpkg "nifty-options-engine/libs/testing"
)

const symbol = "NIFTY"

// niftyIndexKey is the feed's instrument key for the underlying index
// itself, as opposed to any of its CE/PE option chain.
const niftyIndexKey = domain.InstrumentKey("NSE_INDEX|Nifty 50")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = observability.WithRunInfo(ctx, observability.RunInfo{RunID: observability.NewRunID(), Symbol: symbol})

	policy := loadPolicy(cfg)

	masterSource := registry.NewHTTPMasterSource(masterURL())
	reg := registry.New(masterSource, cfg.StrikeStep)
	if err := reg.Refresh(ctx); err != nil {
		log.Printf("registry: initial refresh failed, starting with an empty index: %v", err)
	}

	candles := candle.New(cfg.CandleInterval, candle.DefaultRingSize)
	indSet := indicators.New()
	clock := clockpkg.SystemClock{}
	greeksEngine := greeks.New(cfg.RiskFreeRate, clock)
	pcrAgg := pcr.New(clock)
	signalEngine := signal.NewWithCooldown(cfg.SignalCooldown)
	enforcer := risk.NewEnforcer(policy)

	paperBackend := orders.NewPaperBackend(cfg.PaperStartingCash, filepath.Join(cfg.DataDir, "paper_ledger.json"))
	var liveBackend orders.Backend // wired only when a broker adapter is available
	backend := orders.Backend(paperBackend)
	if cfg.IsLive() && liveBackend != nil {
		backend = liveBackend
	}
	orderMgr := orders.NewManager(backend)

	var mirror position.TradeMirror
	if cfg.DatabaseDSN != "" {
		db, err := database.Connect(ctx, &database.Config{DSN: cfg.DatabaseDSN, MaxOpenConns: 10, MaxIdleConns: 2, RetryAttempts: 3, RetryDelay: time.Second})
		if err != nil {
			log.Printf("database: trade mirror disabled, connect failed: %v", err)
		} else {
			mirror = position.NewPostgresMirror(db)
		}
	}

	positions, err := position.NewManager(position.Config{
		JournalPath:       filepath.Join(cfg.DataDir, "positions.jsonl"),
		TradeLogPath:      filepath.Join(cfg.DataDir, "trades.jsonl"),
		Mirror:            mirror,
		Clock:             clock,
		TrailActivatePct:  cfg.TrailActivatePct,
		TrailLockFraction: cfg.TrailLockFraction,
		SquareOffWindow:   cfg.SquareOffWindow,
	})
	if err != nil {
		log.Fatalf("position: %v", err)
	}
	if err := positions.Reconcile(ctx, func(ctx context.Context, key domain.InstrumentKey) (float64, error) {
		if c, ok := candles.Incomplete(key); ok {
			return c.Close, nil
		}
		return 0, nil
	}); err != nil {
		log.Printf("position: reconcile failed, continuing with stale marks: %v", err)
	}

	conn := feed.NewConn(cfg.BrokerFeedURL, cfg.BrokerAuthToken)

	var redisPub *publish.RedisPublisher
	if cfg.RedisAddr != "" {
		redisPub, err = publish.NewRedisPublisher(ctx, cfg.RedisAddr, "")
		if err != nil {
			log.Printf("publish: redis fan-out disabled: %v", err)
		} else {
			defer redisPub.Close()
		}
	}

	mode := "PAPER"
	if cfg.IsLive() {
		mode = "LIVE"
	}

	eng := orchestrator.New(orchestrator.Config{
		Registry:       reg,
		Conn:           conn,
		Candles:        candles,
		Indicators:     indSet,
		Greeks:         greeksEngine,
		PCR:            pcrAgg,
		Signal:         signalEngine,
		Risk:           enforcer,
		Orders:         orderMgr,
		Positions:      positions,
		Symbol:         symbol,
		IndexKey:       niftyIndexKey,
		LotSize:        75,
		PCRRange:       cfg.PCRStrikeRange,
		Clock:          clock,
		BrokerToken:    cfg.BrokerAuthToken,
		InitialCapital: cfg.PaperStartingCash,
		PaperBackend:   paperBackend,
		LiveBackend:    liveBackend,
		InitialMode:    mode,
		PublishSnapshot: func(snap domain.Snapshot) {
			observability.LogEvent(ctx, "info", "snapshot", map[string]any{
				"signal": string(snap.Signal), "spot": snap.Spot, "open_positions": len(snap.Positions),
			})
			if redisPub != nil {
				redisPub.Publish(ctx, snap)
			}
		},
	})

	now := time.Now()
	sessionOpen := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, now.Location())
	sessionClose := time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, now.Location())
	eng.SetSession(sessionOpen, sessionClose)

	log.Printf("engine: starting symbol=%s mode=%s data_dir=%s", symbol, mode, cfg.DataDir)
	eng.Run(ctx)
	log.Printf("engine: shut down cleanly")
}

func loadPolicy(cfg *config.Config) *risk.Policy {
	policy, err := risk.LoadPolicy(cfg.RiskPolicyPath)
	if err != nil {
		log.Fatalf("risk: %v", err)
	}
	policy.DailyLossLimitPct = cfg.DailyLossLimitPct
	policy.MaxConcurrentPositions = cfg.MaxConcurrentPositions
	policy.Sizing.RiskPerTradePct = cfg.RiskPerTradePct
	policy.Sizing.StopLossPct = cfg.StopLossPct
	policy.Sizing.TargetPct = cfg.TargetPct
	policy.Sizing.MinQtyLots = cfg.MinQtyLots
	policy.Window.WarmupMinutes = int(cfg.WarmupWindow.Minutes())
	policy.Window.SquareOffMinutes = int(cfg.SquareOffWindow.Minutes())
	return policy
}

func masterURL() string {
	if v := os.Getenv("INSTRUMENT_MASTER_URL"); v != "" {
		return v
	}
	return "https://assets.upstox.com/market-quote/instruments/exchange/complete.csv.gz"
}
