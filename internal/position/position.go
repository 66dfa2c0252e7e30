// Package position tracks open option positions through their exit state
// machine (stop, target, trailing stop, end-of-day square-off, or manual
// close). Every state transition appends one record to the positions
// journal; closed trades additionally land in the trade log and the
// optional Postgres mirror.
package position

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nifty-options-engine/internal/domain"
	"nifty-options-engine/libs/database"
	"nifty-options-engine/libs/observability"
	clockpkg "nifty-options-engine/libs/testing"
)

// Default thresholds:
const (
	DefaultTrailActivatePct  = 0.20
	DefaultTrailLockFraction = 0.5
	DefaultSquareOffWindow   = 10 * time.Minute
)

// TradeMirror optionally persists closed trades to a durable store
// (Postgres) in addition to the authoritative JSONL trade log.
type TradeMirror interface {
	InsertTrade(ctx context.Context, p domain.Position) error
}

// Manager owns every open and recently-closed position, enforcing the
// exit state machine on each tick or periodic sweep.
type Manager struct {
	mu   sync.Mutex
	byID map[string]*domain.Position

	journalPath  string
	tradeLogPath string
	mirror       TradeMirror
	clock        clockpkg.Clock

	trailActivatePct  float64
	trailLockFraction float64
	squareOffWindow   time.Duration
}

// Config parameterises the exit state machine's thresholds and where it
// persists state.
type Config struct {
	JournalPath       string
	TradeLogPath      string
	Mirror            TradeMirror
	Clock             clockpkg.Clock
	TrailActivatePct  float64
	TrailLockFraction float64
	SquareOffWindow   time.Duration
}

// NewManager creates a position Manager, reading any existing journal
// for startup reconciliation. Callers should request a fresh quote for
// every loaded position before calling OnTick for the first time.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockpkg.SystemClock{}
	}
	if cfg.TrailActivatePct <= 0 {
		cfg.TrailActivatePct = DefaultTrailActivatePct
	}
	if cfg.TrailLockFraction <= 0 {
		cfg.TrailLockFraction = DefaultTrailLockFraction
	}
	if cfg.SquareOffWindow <= 0 {
		cfg.SquareOffWindow = DefaultSquareOffWindow
	}

	m := &Manager{
		byID:              map[string]*domain.Position{},
		journalPath:       cfg.JournalPath,
		tradeLogPath:      cfg.TradeLogPath,
		mirror:            cfg.Mirror,
		clock:             cfg.Clock,
		trailActivatePct:  cfg.TrailActivatePct,
		trailLockFraction: cfg.TrailLockFraction,
		squareOffWindow:   cfg.SquareOffWindow,
	}

	if cfg.JournalPath != "" {
		if err := m.loadJournal(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// QuoteFunc fetches a fresh last-traded price for an instrument.
type QuoteFunc func(ctx context.Context, key domain.InstrumentKey) (float64, error)

// Reconcile re-quotes every position restored from the journal before
// the manager starts accepting live ticks, so a restart never trades
// off a stale mark-to-market.
func (m *Manager) Reconcile(ctx context.Context, quote QuoteFunc) error {
	m.mu.Lock()
	var open []*domain.Position
	for _, p := range m.byID {
		if p.Status == domain.PositionOpen {
			open = append(open, p)
		}
	}
	m.mu.Unlock()

	now := m.clock.Now()
	for _, p := range open {
		ltp, err := quote(ctx, p.InstrumentKey)
		if err != nil {
			observability.LogEvent(ctx, "error", "position_reconcile_quote_failed", map[string]any{
				"error": err.Error(), "instrument_key": string(p.InstrumentKey),
			})
			continue
		}
		m.mu.Lock()
		p.LastPrice = ltp
		p.UnrealisedPnL = (ltp - p.EntryPrice) * float64(p.Qty)
		m.mu.Unlock()
		observability.LogEvent(ctx, "info", "position_reconciled", map[string]any{
			"instrument_key": string(p.InstrumentKey), "last_price": ltp, "at": now,
		})
	}
	return nil
}

// loadJournal replays the JSONL journal: one full position record per
// state change, newest record per ID wins. Only positions still OPEN at
// the end of the replay are restored.
func (m *Manager) loadJournal() error {
	data, err := os.ReadFile(m.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("position: read journal: %w", err)
	}

	latest := map[string]domain.Position{}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var p domain.Position
		if err := json.Unmarshal(line, &p); err != nil {
			return fmt.Errorf("position: parse journal line: %w", err)
		}
		latest[p.ID] = p
	}
	for id, p := range latest {
		if p.Status == domain.PositionOpen {
			restored := p
			m.byID[id] = &restored
		}
	}
	return nil
}

// Open registers a new position from an accepted signal/order fill.
func (m *Manager) Open(instKey domain.InstrumentKey, optType domain.OptionType, strike, entryPrice float64, qty int, stopLoss, target float64, now time.Time) domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := domain.Position{
		ID:            uuid.NewString(),
		Type:          optType,
		InstrumentKey: instKey,
		Strike:        strike,
		EntryTS:       now,
		EntryPrice:    entryPrice,
		Qty:           qty,
		StopLoss:      stopLoss,
		Target:        target,
		Status:        domain.PositionOpen,
		LastPrice:     entryPrice,
	}
	m.byID[pos.ID] = &pos
	m.journalLocked(&pos)
	return pos
}

// OpenCount is the number of currently open positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.byID {
		if p.Status == domain.PositionOpen {
			n++
		}
	}
	return n
}

// OnTick updates a position's mark-to-market and evaluates the exit
// state machine, closing it if stop/target/trailing-stop is breached.
// Returns the closed position and true if an exit occurred.
func (m *Manager) OnTick(ctx context.Context, id domain.InstrumentKey, ltp float64, now time.Time) (domain.Position, bool) {
	m.mu.Lock()
	var target *domain.Position
	for _, p := range m.byID {
		if p.InstrumentKey == id && p.Status == domain.PositionOpen {
			target = p
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return domain.Position{}, false
	}

	target.LastPrice = ltp
	target.UnrealisedPnL = (ltp - target.EntryPrice) * float64(target.Qty)

	trailChanged := m.updateTrailingLocked(target, ltp)

	reason, hit := m.checkExitLocked(target, ltp)
	if !hit {
		// Journal only on state transitions; a mark-to-market move alone
		// is not worth a disk write per tick.
		if trailChanged {
			m.journalLocked(target)
		}
		m.mu.Unlock()
		return domain.Position{}, false
	}

	closed := m.closeLocked(target, exitFillPrice(target, reason, ltp), reason, now)
	m.mu.Unlock()

	m.recordTrade(ctx, closed)
	return closed, true
}

// updateTrailingLocked activates and ratchets the trailing stop. Both CE
// and PE positions are long the option premium, so entryPrice, stopLoss,
// target and trailingSL all live in premium space where profit is
// always current > entry. On activation the gap between entry and the
// current premium, scaled by the lock fraction, is fixed once as
// trailOffset; every tick afterward the stop is pulled up to
// current-trailOffset and never relaxed.
func (m *Manager) updateTrailingLocked(p *domain.Position, ltp float64) bool {
	pnlPct := (ltp - p.EntryPrice) / p.EntryPrice
	if pnlPct < m.trailActivatePct {
		return false
	}

	if !p.TrailingActive {
		p.TrailOffset = (ltp - p.EntryPrice) * m.trailLockFraction
		p.TrailingActive = true
		p.TrailingSL = p.EntryPrice + p.TrailOffset
		return true
	}

	// Ratchet-only: the trailing stop never gives back ground once set.
	if candidate := ltp - p.TrailOffset; candidate > p.TrailingSL {
		p.TrailingSL = candidate
		return true
	}
	return false
}

func (m *Manager) checkExitLocked(p *domain.Position, ltp float64) (domain.ExitReason, bool) {
	if p.TrailingActive && ltp <= p.TrailingSL {
		return domain.ExitTrail, true
	}
	if ltp <= p.StopLoss {
		return domain.ExitStop, true
	}
	if ltp >= p.Target {
		return domain.ExitTarget, true
	}
	return "", false
}

// exitFillPrice is the price a closed position fills at: the
// trailing-stop level for a TRAIL exit (the breaching tick may have
// gapped past it), the raw tick otherwise.
func exitFillPrice(p *domain.Position, reason domain.ExitReason, ltp float64) float64 {
	if reason == domain.ExitTrail {
		return p.TrailingSL
	}
	return ltp
}

// SquareOffDue closes every open position once now has entered the
// square-off window before sessionClose.
func (m *Manager) SquareOffDue(ctx context.Context, now, sessionClose time.Time) []domain.Position {
	if now.Before(sessionClose.Add(-m.squareOffWindow)) {
		return nil
	}

	m.mu.Lock()
	var closed []domain.Position
	for _, p := range m.byID {
		if p.Status != domain.PositionOpen {
			continue
		}
		closed = append(closed, m.closeLocked(p, p.LastPrice, domain.ExitSquareOff, now))
	}
	m.mu.Unlock()

	for _, c := range closed {
		m.recordTrade(ctx, c)
	}
	return closed
}

// CloseManual force-closes a position outside the automatic state machine.
func (m *Manager) CloseManual(ctx context.Context, instKey domain.InstrumentKey, exitPrice float64, now time.Time) (domain.Position, bool) {
	m.mu.Lock()
	var target *domain.Position
	for _, p := range m.byID {
		if p.InstrumentKey == instKey && p.Status == domain.PositionOpen {
			target = p
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return domain.Position{}, false
	}
	closed := m.closeLocked(target, exitPrice, domain.ExitManual, now)
	m.mu.Unlock()
	m.recordTrade(ctx, closed)
	return closed, true
}

// CloseByID force-closes a single open position by its ID, for the
// operator `closePosition(id, exitPrice)` command.
func (m *Manager) CloseByID(ctx context.Context, id string, exitPrice float64, now time.Time) (domain.Position, bool) {
	m.mu.Lock()
	target, ok := m.byID[id]
	if !ok || target.Status != domain.PositionOpen {
		m.mu.Unlock()
		return domain.Position{}, false
	}
	closed := m.closeLocked(target, exitPrice, domain.ExitManual, now)
	m.mu.Unlock()
	m.recordTrade(ctx, closed)
	return closed, true
}

func (m *Manager) closeLocked(p *domain.Position, exitPrice float64, reason domain.ExitReason, now time.Time) domain.Position {
	p.Status = domain.PositionClosed
	p.ExitReason = reason
	p.ExitTS = now
	p.ExitPrice = exitPrice
	p.RealisedPnL = (exitPrice - p.EntryPrice) * float64(p.Qty)
	p.UnrealisedPnL = 0
	m.journalLocked(p)
	return *p
}

// OpenPositions returns a snapshot copy of every currently open position.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.byID {
		if p.Status == domain.PositionOpen {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTS.Before(out[j].EntryTS) })
	return out
}

// journalLocked appends one full record for p's new state. The journal
// is append-only; replay on startup reduces it to current state.
func (m *Manager) journalLocked(p *domain.Position) {
	if m.journalPath == "" {
		return
	}
	err := appendJSONLine(m.journalPath, *p)
	observability.LogJournalWrite(context.Background(), "positions", err)
}

func (m *Manager) recordTrade(ctx context.Context, p domain.Position) {
	if m.tradeLogPath != "" {
		if err := appendJSONLine(m.tradeLogPath, p); err != nil {
			observability.LogEvent(ctx, "error", "trade_log_append_failed", map[string]any{"error": err.Error(), "position_id": p.ID})
		}
	}
	if m.mirror != nil {
		if err := m.mirror.InsertTrade(ctx, p); err != nil {
			observability.LogEvent(ctx, "warn", "trade_mirror_failed", map[string]any{"error": err.Error(), "position_id": p.ID})
		}
	}
}

func appendJSONLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}


// PostgresMirror adapts libs/database's pool into a TradeMirror,
// optionally mirroring the authoritative JSONL trade log into Postgres
// for ad-hoc querying.
type PostgresMirror struct {
	db *database.DB
}

// NewPostgresMirror wraps an established database connection.
func NewPostgresMirror(db *database.DB) *PostgresMirror {
	return &PostgresMirror{db: db}
}

// InsertTrade writes p into the trade_history table, creating it on
// first use if it does not already exist.
func (pm *PostgresMirror) InsertTrade(ctx context.Context, p domain.Position) error {
	const ddl = `CREATE TABLE IF NOT EXISTS trade_history (
		id TEXT PRIMARY KEY,
		instrument_key TEXT NOT NULL,
		option_type TEXT NOT NULL,
		strike DOUBLE PRECISION NOT NULL,
		entry_ts TIMESTAMPTZ NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		qty INTEGER NOT NULL,
		exit_reason TEXT,
		exit_ts TIMESTAMPTZ,
		exit_price DOUBLE PRECISION,
		realised_pnl DOUBLE PRECISION
	)`
	if _, err := pm.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("position: ensure trade_history table: %w", err)
	}

	const insert = `INSERT INTO trade_history
		(id, instrument_key, option_type, strike, entry_ts, entry_price, qty, exit_reason, exit_ts, exit_price, realised_pnl)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`
	_, err := pm.db.ExecContext(ctx, insert,
		p.ID, string(p.InstrumentKey), string(p.Type), p.Strike, p.EntryTS, p.EntryPrice, p.Qty,
		string(p.ExitReason), p.ExitTS, p.ExitPrice, p.RealisedPnL)
	if err != nil {
		return fmt.Errorf("position: insert trade_history row: %w", err)
	}
	return nil
}
