// Package orchestrator wires the feed, candle, indicator, Greeks, PCR,
// signal, risk, order, and position components into a single running
// engine for one underlying symbol, and owns the periodic housekeeping
// tasks (feed reconnect supervision, candle sweep, PCR emission, Greeks
// recompute, registry refresh, snapshot assembly) described below.
//
// Indicators (Supertrend/EMA/RSI/ATR/VWAP) are computed on the underlying
// index's own candles, exactly as a screen-based trader would read them;
// the ATM CE/PE legs contribute Greeks and PCR but never their own
// indicator panel. The signal engine runs on every finalised index
// candle and, additionally, on every index tick whose incomplete-candle
// close would flip the EMA(5)/EMA(20) crossover, so a large intra-bucket
// move doesn't wait for the bucket to close.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nifty-options-engine/internal/candle"
	"nifty-options-engine/internal/domain"
	"nifty-options-engine/internal/feed"
	"nifty-options-engine/internal/greeks"
	"nifty-options-engine/internal/indicators"
	"nifty-options-engine/internal/orders"
	"nifty-options-engine/internal/pcr"
	"nifty-options-engine/internal/position"
	"nifty-options-engine/internal/registry"
	"nifty-options-engine/internal/signal"
	"nifty-options-engine/libs/auth"
	"nifty-options-engine/libs/observability"
	"nifty-options-engine/libs/risk"
	clockpkg "nifty-options-engine/libs/testing"
)

// SweepInterval is how often the candle manager is swept for a finalised
// candle even when no new tick has arrived.
const SweepInterval = 1 * time.Second

// SnapshotInterval bounds how often a Snapshot is emitted when nothing
// else has changed; a changed signal or position is folded into the next tick.
const SnapshotInterval = 1 * time.Second

// ShutdownDrainTimeout is how long graceful shutdown waits for in-flight
// feed messages before forcing a stop.
const ShutdownDrainTimeout = 5 * time.Second

// Config bundles every already-constructed component the Engine wires
// together; callers build each piece (registry, feed, risk policy, order
// backend, ...) and hand them to New.
type Config struct {
	Registry  *registry.Registry
	Conn      *feed.Conn
	Candles   *candle.Manager
	Indicators *indicators.Set // tracks the underlying index's own candles
	Greeks    *greeks.Engine
	PCR       *pcr.Aggregator
	Signal    *signal.Engine
	Risk      *risk.Enforcer
	Orders    *orders.Manager
	Positions *position.Manager

	Symbol   string
	IndexKey domain.InstrumentKey
	LotSize  int
	Clock    clockpkg.Clock

	// PCRRange bounds the strike window subscribed for PCR aggregation,
	// in index points either side of the ATM strike.
	PCRRange float64

	BrokerToken     string
	RegistryMaxAge  time.Duration
	InitialCapital  float64
	PublishSnapshot func(domain.Snapshot)

	// PaperBackend and LiveBackend are both wired up-front when available
	// so the `setMode` operator command can retarget the Order
	// Manager without reconstructing the engine.
	PaperBackend *orders.PaperBackend
	LiveBackend  orders.Backend
	InitialMode  string // "PAPER" (default) or "LIVE"
}

// Engine is the running trading loop for one underlying symbol.
type Engine struct {
	cfg Config

	mu     sync.RWMutex
	latest domain.Snapshot

	feedOut chan feed.FeedMessage

	// snapOut hands assembled Snapshots to the publisher goroutine with
	// a bounded buffer of one and drop-oldest semantics, so a slow
	// downstream consumer can never stall the engine loop.
	snapOut chan domain.Snapshot

	ceLTP, peLTP float64
	haveLegs     bool
	lastSignal   domain.Signal
	lastIndicators domain.IndicatorsView
	lastPCR        domain.PCRView
	lastGreeks     domain.GreeksSnapshot

	// lastFoldedEnd is the End of the newest finalised index candle
	// already folded into the indicator set, so the sweep never feeds
	// the same candle twice.
	lastFoldedEnd time.Time

	pcrKeys []domain.InstrumentKey

	dailyPnL     float64
	sessionOpen  time.Time
	sessionClose time.Time

	manualHalt bool   // set by the operator `stop` command; cleared by `start`
	mode       string // "PAPER" | "LIVE", mutated by `setMode`
}

// CommandErrorCode identifies why an operator command was refused.
type CommandErrorCode string

const (
	CommandErrUnknownPosition CommandErrorCode = "UNKNOWN_POSITION"
	CommandErrInvalidMode     CommandErrorCode = "INVALID_MODE"
	CommandErrBackendMissing  CommandErrorCode = "BACKEND_NOT_CONFIGURED"
	CommandErrInvalidAmount   CommandErrorCode = "INVALID_AMOUNT"
)

// CommandError is the structured error returned by a failed operator command.
type CommandError struct {
	Code    CommandErrorCode
	Message string
}

func (e *CommandError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// New creates an Engine from a fully-wired Config.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockpkg.SystemClock{}
	}
	if cfg.RegistryMaxAge <= 0 {
		cfg.RegistryMaxAge = registry.RefreshMaxAge
	}
	if cfg.LotSize <= 0 {
		cfg.LotSize = 1
	}
	if cfg.PCRRange <= 0 {
		cfg.PCRRange = 500
	}
	mode := cfg.InitialMode
	if mode == "" {
		mode = "PAPER"
	}
	return &Engine{
		cfg:     cfg,
		feedOut: make(chan feed.FeedMessage, 1024),
		snapOut: make(chan domain.Snapshot, 1),
		mode:    mode,
	}
}

// SetSession records today's session open/close, used for the risk
// gate's trading window and the position manager's square-off timer.
func (e *Engine) SetSession(open, close time.Time) {
	e.sessionOpen = open
	e.sessionClose = close
}

// Run drives the engine until ctx is cancelled: feed ingestion, periodic
// housekeeping, and graceful shutdown on cancellation.
func (e *Engine) Run(ctx context.Context) {
	// The index itself is always subscribed; the option window follows
	// the ATM strike once the first index candle gives us a spot.
	e.cfg.Conn.UpdateSubscriptions(feed.ModeFull, []string{string(e.cfg.IndexKey)})

	go e.cfg.Conn.Run(ctx, e.feedOut, func(attempt int, delay time.Duration) {
		observability.RecordFeedReconnect(ctx, attempt, delay)
	})

	if e.cfg.PublishSnapshot != nil {
		go e.publishLoop(ctx)
	}

	sweep := time.NewTicker(SweepInterval)
	defer sweep.Stop()
	snapshotTick := time.NewTicker(SnapshotInterval)
	defer snapshotTick.Stop()
	registryTick := time.NewTicker(1 * time.Hour)
	defer registryTick.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drainOnShutdown()
			return

		case msg := <-e.feedOut:
			e.handleFeedMessage(ctx, msg)

		case now := <-sweep.C:
			e.cfg.Candles.Sweep(now)
			e.handleIndexCandle(ctx, now)
			e.handleSquareOff(ctx, now)

		case <-snapshotTick.C:
			e.emitSnapshot(ctx, e.cfg.Clock.Now())

		case <-registryTick.C:
			if e.cfg.Registry.NeedsRefresh(e.cfg.RegistryMaxAge) {
				if err := e.cfg.Registry.Refresh(ctx); err != nil {
					observability.LogEvent(ctx, "warn", "registry_refresh_failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}
}

func (e *Engine) drainOnShutdown() {
	deadline := time.After(ShutdownDrainTimeout)
	for {
		select {
		case msg := <-e.feedOut:
			e.handleFeedMessage(context.Background(), msg)
		case <-deadline:
			return
		default:
			return
		}
	}
}

func (e *Engine) handleFeedMessage(ctx context.Context, msg feed.FeedMessage) {
	for _, t := range msg.Ticks {
		e.handleTick(ctx, t)
	}
}

// handleTick routes one tick to the candle manager, the PCR aggregator
// (options only), the position manager (mark-to-market / exit check),
// and tracks the ATM leg premiums used by the Greeks engine.
func (e *Engine) handleTick(ctx context.Context, t domain.Tick) {
	if t.Instrument == e.cfg.IndexKey {
		e.cfg.Candles.OnTick(t)
		e.handleIntraCandleTick(ctx, t.TS)
	}

	inst, ok := e.cfg.Registry.Lookup(t.Instrument)
	if ok && inst.Segment == domain.SegmentOption {
		if t.OI != nil {
			if inst.OptionType == domain.CE {
				e.cfg.PCR.UpdateCE(t.Instrument, *t.OI)
			} else {
				e.cfg.PCR.UpdatePE(t.Instrument, *t.OI)
			}
		}
		e.trackATMLeg(t, inst)
	}

	if closed, exited := e.cfg.Positions.OnTick(ctx, t.Instrument, t.LTP, t.TS); exited {
		observability.RecordPositionClosed(ctx, string(closed.InstrumentKey), string(closed.ExitReason), closed.RealisedPnL, closed.ExitTS.Sub(closed.EntryTS))
		e.addRealised(closed.RealisedPnL)
	}
}

func (e *Engine) trackATMLeg(t domain.Tick, inst domain.Instrument) {
	now := e.cfg.Clock.Now()
	expiry, ok := e.cfg.Registry.NearestExpiry(e.cfg.Symbol, now)
	if !ok {
		return
	}
	spot := e.lastIndexClose()
	atm := e.cfg.Registry.ATMStrike(spot)
	if inst.Strike != atm || !inst.Expiry.Equal(expiry) {
		return
	}
	e.mu.Lock()
	if inst.OptionType == domain.CE {
		e.ceLTP = t.LTP
	} else {
		e.peLTP = t.LTP
	}
	e.haveLegs = e.ceLTP > 0 && e.peLTP > 0
	e.mu.Unlock()
}

func (e *Engine) lastIndexClose() float64 {
	candles := e.cfg.Candles.Finalised(e.cfg.IndexKey)
	if len(candles) == 0 {
		if c, ok := e.cfg.Candles.Incomplete(e.cfg.IndexKey); ok {
			return c.Close
		}
		return 0
	}
	return candles[len(candles)-1].Close
}

// handleIndexCandle folds newly-finalised index candles into the
// indicator set (each exactly once, in order, including backfilled quiet
// buckets), re-centres the PCR strike window on the fresh spot, and
// evaluates the signal engine on the newest one.
func (e *Engine) handleIndexCandle(ctx context.Context, now time.Time) {
	candles := e.cfg.Candles.Finalised(e.cfg.IndexKey)
	if len(candles) == 0 {
		return
	}

	var view domain.IndicatorsView
	var last domain.Candle
	folded := false
	for _, c := range candles {
		if !c.End.After(e.lastFoldedEnd) {
			continue
		}
		view = e.cfg.Indicators.OnCandle(c)
		last = c
		e.lastFoldedEnd = c.End
		folded = true
	}
	if !folded {
		return
	}

	e.syncPCRWindow(last.Close, now)

	volRatio := e.cfg.Indicators.VolumeRatio(last.Volume)
	e.evaluateAndAct(ctx, now, last, view, volRatio)
}

// syncPCRWindow re-derives the ATM-centred strike window from spot and,
// when it moved, updates the feed subscriptions and prunes departed
// contracts from the aggregator in one step.
func (e *Engine) syncPCRWindow(spot float64, now time.Time) {
	expiry, ok := e.cfg.Registry.NearestExpiry(e.cfg.Symbol, now)
	if !ok {
		return
	}
	atm := e.cfg.Registry.ATMStrike(spot)
	keys := e.cfg.Registry.PCRWindow(e.cfg.Symbol, expiry, atm, e.cfg.PCRRange)
	if keysEqual(keys, e.pcrKeys) {
		return
	}

	asStrings := make([]string, len(keys))
	for i, k := range keys {
		asStrings[i] = string(k)
	}
	e.cfg.Conn.UpdateSubscriptions(feed.ModeFull, append(asStrings, string(e.cfg.IndexKey)))
	e.cfg.PCR.Retain(keys)
	e.pcrKeys = keys
}

func keysEqual(a, b []domain.InstrumentKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// handleIntraCandleTick re-evaluates the signal engine against the live
// incomplete index candle's current close folded into EMA(5)/EMA(20) as
// a provisional bar, so a large intra-bucket move is acted on before
// the bucket finalises. RSI, ATR, Supertrend, and volume stay pinned to
// their last finalised values; only the EMA-driven filters see the
// provisional price.
func (e *Engine) handleIntraCandleTick(ctx context.Context, now time.Time) {
	inc, ok := e.cfg.Candles.Incomplete(e.cfg.IndexKey)
	if !ok {
		return
	}
	if e.cfg.Indicators.IntraCandleCrossover(inc.Close) == indicators.CrossoverNone {
		return
	}
	view := e.cfg.Indicators.PeekIntraCandle(inc.Close)
	volRatio := e.cfg.Indicators.VolumeRatio(inc.Volume)

	e.evaluateAndAct(ctx, now, inc, view, volRatio)
}

// evaluateAndAct runs the signal engine against candle (finalised or the
// live incomplete bar) and view, then attempts entry on a non-HOLD
// signal. Shared by the finalised-candle and intra-candle paths.
func (e *Engine) evaluateAndAct(ctx context.Context, now time.Time, candleForSignal domain.Candle, view domain.IndicatorsView, volRatio float64) {
	e.mu.RLock()
	ceLTP, peLTP, haveLegs := e.ceLTP, e.peLTP, e.haveLegs
	e.mu.RUnlock()
	if !haveLegs {
		return
	}

	expiry, ok := e.cfg.Registry.NearestExpiry(e.cfg.Symbol, now)
	if !ok {
		return
	}
	atm := e.cfg.Registry.ATMStrike(candleForSignal.Close)

	// Between recomputations/emissions the last published values stand;
	// a rate-limited skip must not feed the signal engine zeroes.
	e.mu.RLock()
	gs := e.lastGreeks
	pcrView := e.lastPCR
	e.mu.RUnlock()

	if e.cfg.Greeks.ShouldRecompute(atm, ceLTP, peLTP) {
		gs = e.cfg.Greeks.Compute(candleForSignal.Close, atm, ceLTP, peLTP, expiry, now)
	}
	if e.cfg.PCR.ReadyToEmit() {
		pcrView = toPCRView(e.cfg.PCR.Emit())
	}

	sig := e.cfg.Signal.Evaluate(signal.Inputs{
		Now:              now,
		Candle:           candleForSignal,
		Indicators:       view,
		VolumeRatio:      volRatio,
		Greeks:           gs,
		PCR:              pcrView,
		RecentSupertrend: e.cfg.Indicators.RecentSupertrend(),
	})
	observability.RecordSignalIssued(ctx, string(sig.Kind), sig.Diagnostic, sig.Confidence)
	e.mu.Lock()
	e.lastSignal = sig
	e.lastIndicators = view
	e.lastPCR = pcrView
	e.lastGreeks = gs
	e.mu.Unlock()

	if sig.Kind == domain.Hold {
		return
	}

	ce, pe, ok := e.cfg.Registry.ATMPair(e.cfg.Symbol, expiry, atm)
	if !ok {
		return
	}

	// One flow_id ties every log line from this signal through to its
	// order placement (or rejection), so the full decision chain can be
	// pulled from the structured log stream with a single filter.
	ctx = observability.WithFlowID(ctx, observability.NewFlowID())
	if sig.Kind == domain.BuyCE {
		e.tryEnterPosition(ctx, domain.CE, ce.Key, ceLTP, sig.IssuedAt, now)
	} else {
		e.tryEnterPosition(ctx, domain.PE, pe.Key, peLTP, sig.IssuedAt, now)
	}
}

func (e *Engine) tryEnterPosition(ctx context.Context, side domain.OptionType, key domain.InstrumentKey, entryPrice float64, issuedAt, now time.Time) {
	e.mu.RLock()
	halted := e.manualHalt
	e.mu.RUnlock()
	if halted {
		observability.RecordRiskRejection(ctx, "OPERATOR_STOPPED")
		return
	}
	if status := auth.Inspect(auth.Credential{Raw: e.cfg.BrokerToken}, now); !status.Authenticated {
		observability.RecordRiskRejection(ctx, "TOKEN_EXPIRED")
		return
	}

	stopLoss := e.cfg.Risk.DefaultStopLoss(entryPrice)
	target := e.cfg.Risk.DefaultTarget(entryPrice)

	e.mu.RLock()
	dailyPnL := e.dailyPnL
	e.mu.RUnlock()

	decision := e.cfg.Risk.Evaluate(risk.SignalInput{
		EntryPrice: entryPrice,
		StopLoss:   stopLoss,
		LotSize:    e.cfg.LotSize,
	}, risk.AccountState{
		CurrentBalance: e.cfg.InitialCapital + dailyPnL,
		DailyPnL:       dailyPnL,
		InitialCapital: e.cfg.InitialCapital,
		OpenPositions:  e.cfg.Positions.OpenCount(),
		Now:            now,
		SessionOpen:    e.sessionOpen,
		SessionClose:   e.sessionClose,
	})
	if !decision.Approved {
		observability.RecordRiskRejection(ctx, string(decision.Violation.Code))
		return
	}

	// The idempotency key names the entry decision, not the call: a
	// retry of the same signal within the cache TTL reuses the key and
	// gets the original Ack back instead of a second fill. The cooldown
	// guarantees distinct same-kind signals are minutes apart, so the
	// issue timestamp disambiguates decisions.
	ack, err := e.cfg.Orders.Place(ctx, orders.Request{
		IdempotencyKey: fmt.Sprintf("%s|%s|%d", key, side, issuedAt.UnixMilli()),
		InstrumentKey:  key,
		Qty:            decision.Qty,
		LimitPrice:     entryPrice,
	})
	observability.RecordOrderPlaced(ctx, string(key), decision.Qty, string(orderStatus(ack, err)), err)
	if err != nil || ack.Status == orders.StatusUnknown || ack.Status == orders.StatusRejected || ack.FilledQty == 0 {
		return
	}

	inst, _ := e.cfg.Registry.Lookup(key)
	e.cfg.Positions.Open(key, side, inst.Strike, ack.FilledPrice, ack.FilledQty, stopLoss, target, now)
}

func orderStatus(ack orders.Ack, err error) orders.Status {
	if err != nil {
		return orders.StatusRejected
	}
	return ack.Status
}

func (e *Engine) handleSquareOff(ctx context.Context, now time.Time) {
	if e.sessionClose.IsZero() {
		return
	}
	closed := e.cfg.Positions.SquareOffDue(ctx, now, e.sessionClose)
	for _, c := range closed {
		observability.RecordPositionClosed(ctx, string(c.InstrumentKey), string(c.ExitReason), c.RealisedPnL, c.ExitTS.Sub(c.EntryTS))
		e.addRealised(c.RealisedPnL)
	}
}

func (e *Engine) addRealised(pnl float64) {
	e.mu.Lock()
	e.dailyPnL += pnl
	e.mu.Unlock()
}

func (e *Engine) emitSnapshot(ctx context.Context, now time.Time) {
	authStatus := auth.Inspect(auth.Credential{Raw: e.cfg.BrokerToken}, now)
	policy := e.cfg.Risk.Policy()

	e.mu.RLock()
	sig := e.lastSignal
	ind := e.lastIndicators
	pcrView := e.lastPCR
	gs := e.lastGreeks
	halted := e.manualHalt
	dailyPnL := e.dailyPnL
	e.mu.RUnlock()

	lossFrac := 0.0
	if e.cfg.InitialCapital > 0 {
		lossFrac = -dailyPnL / e.cfg.InitialCapital
	}
	tradingAllowed := !halted && lossFrac < policy.DailyLossLimitPct && authStatus.Authenticated

	snap := domain.Snapshot{
		TS:         now,
		Spot:       e.lastIndexClose(),
		Positions:  e.cfg.Positions.OpenPositions(),
		Signal:     sig.Kind,
		Filters:    sig.Filters,
		Reasoning:  sig.Reason,
		Indicators: ind,
		PCR:        pcrView,
		Greeks:     gs,
		Risk: domain.RiskState{
			InitialCapital:         e.cfg.InitialCapital,
			CurrentBalance:         e.cfg.InitialCapital + dailyPnL,
			DailyPnL:               dailyPnL,
			DailyLossLimit:         policy.DailyLossLimitPct,
			MaxConcurrentPositions: policy.MaxConcurrentPositions,
			RiskPerTradePct:        policy.Sizing.RiskPerTradePct,
			TradingAllowed:         tradingAllowed,
			SessionStart:           e.sessionOpen,
		},
		Auth: domain.AuthState{
			Authenticated:         authStatus.Authenticated,
			TokenRemainingSeconds: authStatus.TokenRemainingSeconds,
			ErrorMessage:          authStatus.ErrorMessage,
		},
	}

	e.mu.Lock()
	e.latest = snap
	e.mu.Unlock()

	observability.RecordOpenPositions(len(snap.Positions))
	observability.RecordAccountEquity(snap.Risk.CurrentBalance)

	e.dispatchSnapshot(snap)
}

// dispatchSnapshot offers snap to the publisher goroutine without ever
// blocking: if the size-1 buffer is full the stale queued snapshot is
// discarded in favour of the new one. Losing a snapshot is always
// preferable to losing a tick.
func (e *Engine) dispatchSnapshot(snap domain.Snapshot) {
	if e.cfg.PublishSnapshot == nil {
		return
	}
	for {
		select {
		case e.snapOut <- snap:
			return
		default:
		}
		select {
		case <-e.snapOut:
		default:
		}
	}
}

// publishLoop drains snapOut and runs the (possibly slow) publish
// callback off the engine loop.
func (e *Engine) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-e.snapOut:
			e.cfg.PublishSnapshot(snap)
		}
	}
}

// Latest returns the most recently assembled Snapshot.
func (e *Engine) Latest() domain.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// ─── Operator command surface ─────────────────────────────────────
//
// Each command mutates a small piece of engine-owned state and returns the
// freshly-assembled Snapshot, or a *CommandError the caller can forward to
// the dashboard verbatim.

// Stop halts new order submission without tearing down ingestion,
// indicators, or position management — equivalent in effect to a
// DAILY_LOSS_LIMIT halt but operator-initiated and operator-reversible.
func (e *Engine) Stop(ctx context.Context) domain.Snapshot {
	e.mu.Lock()
	e.manualHalt = true
	e.mu.Unlock()
	e.emitSnapshot(ctx, e.cfg.Clock.Now())
	return e.Latest()
}

// Start clears an operator-initiated halt set by Stop. It does not
// override a DAILY_LOSS_LIMIT breach, which only clears at next session.
func (e *Engine) Start(ctx context.Context) domain.Snapshot {
	e.mu.Lock()
	e.manualHalt = false
	e.mu.Unlock()
	e.emitSnapshot(ctx, e.cfg.Clock.Now())
	return e.Latest()
}

// ClosePosition force-closes one open position by ID at the given exit
// price, bypassing the automatic exit state machine.
func (e *Engine) ClosePosition(ctx context.Context, id string, exitPrice float64) (domain.Snapshot, error) {
	closed, ok := e.cfg.Positions.CloseByID(ctx, id, exitPrice, e.cfg.Clock.Now())
	if !ok {
		return domain.Snapshot{}, &CommandError{Code: CommandErrUnknownPosition, Message: fmt.Sprintf("no open position with id %q", id)}
	}
	e.mu.Lock()
	e.dailyPnL += closed.RealisedPnL
	e.mu.Unlock()
	observability.RecordPositionClosed(ctx, string(closed.InstrumentKey), string(closed.ExitReason), closed.RealisedPnL, closed.ExitTS.Sub(closed.EntryTS))
	e.emitSnapshot(ctx, e.cfg.Clock.Now())
	return e.Latest(), nil
}

// SetMode retargets the Order Manager's backend between the paper
// simulator and the live broker adapter. Switching to LIVE requires a
// LiveBackend to have been wired at construction.
func (e *Engine) SetMode(mode string) error {
	switch mode {
	case "PAPER":
		if e.cfg.PaperBackend == nil {
			return &CommandError{Code: CommandErrBackendMissing, Message: "no paper backend configured"}
		}
		e.cfg.Orders.SetBackend(e.cfg.PaperBackend)
	case "LIVE":
		if e.cfg.LiveBackend == nil {
			return &CommandError{Code: CommandErrBackendMissing, Message: "no live backend configured"}
		}
		e.cfg.Orders.SetBackend(e.cfg.LiveBackend)
	default:
		return &CommandError{Code: CommandErrInvalidMode, Message: fmt.Sprintf("unknown mode %q, want PAPER or LIVE", mode)}
	}
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
	return nil
}

// Mode returns the Order Manager's current backend selection.
func (e *Engine) Mode() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// AddFunds credits amount to the paper trading ledger, for the operator
// `addFunds` command. It is rejected outside PAPER mode: live capital is
// never mutated by this engine.
func (e *Engine) AddFunds(ctx context.Context, amount float64) (domain.Snapshot, error) {
	if amount <= 0 {
		return domain.Snapshot{}, &CommandError{Code: CommandErrInvalidAmount, Message: "amount must be positive"}
	}
	if e.Mode() != "PAPER" || e.cfg.PaperBackend == nil {
		return domain.Snapshot{}, &CommandError{Code: CommandErrBackendMissing, Message: "addFunds requires PAPER mode"}
	}
	if err := e.cfg.PaperBackend.AddFunds(amount); err != nil {
		return domain.Snapshot{}, fmt.Errorf("orchestrator: persist paper ledger: %w", err)
	}
	e.mu.Lock()
	e.cfg.InitialCapital += amount
	e.mu.Unlock()
	e.emitSnapshot(ctx, e.cfg.Clock.Now())
	return e.Latest(), nil
}

// GetStatus assembles and returns the current Snapshot on demand,
// independent of the periodic SnapshotInterval tick.
func (e *Engine) GetStatus(ctx context.Context) domain.Snapshot {
	e.emitSnapshot(ctx, e.cfg.Clock.Now())
	return e.Latest()
}

func toPCRView(s domain.PCRState) domain.PCRView {
	return domain.PCRView{
		Value:     s.PCR,
		Sentiment: s.Sentiment,
		Trend:     s.Trend,
		CEOI:      s.TotalCEOI,
		PEOI:      s.TotalPEOI,
		Samples:   s.SampleCount,
	}
}
