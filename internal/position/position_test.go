package position

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/domain"
	clockpkg "nifty-options-engine/libs/testing"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		JournalPath:  filepath.Join(t.TempDir(), "positions.json"),
		TradeLogPath: filepath.Join(t.TempDir(), "trades.jsonl"),
		Clock:        clockpkg.NewManualClock(time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return m
}

func TestOpenCreatesPosition(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	pos := m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, 1, m.OpenCount())
}

func TestOnTickStopLossExits(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	closed, exited := m.OnTick(context.Background(), "OPT_24800_CE", 69, now.Add(time.Minute))
	require.True(t, exited)
	assert.Equal(t, domain.ExitStop, closed.ExitReason)
	assert.InDelta(t, (69.0-100.0)*75, closed.RealisedPnL, 0.001)
	assert.Equal(t, 0, m.OpenCount())
}

func TestOnTickTargetExits(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	closed, exited := m.OnTick(context.Background(), "OPT_24800_CE", 161, now.Add(time.Minute))
	require.True(t, exited)
	assert.Equal(t, domain.ExitTarget, closed.ExitReason)
}

func TestTrailingStopActivatesAndRatchets(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	// Entry 100, SL 70, target 160: 100->120->135->130->150->110.
	m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	// +20% unrealised (120) activates trailing: trailOffset = (120-100)*0.5 = 10,
	// trailingSL = 100 + 10 = 110.
	_, exited := m.OnTick(context.Background(), "OPT_24800_CE", 120, now.Add(time.Minute))
	require.False(t, exited)

	// 135: trailOffset stays fixed at 10, trailingSL ratchets to 135-10 = 125.
	_, exited = m.OnTick(context.Background(), "OPT_24800_CE", 135, now.Add(2*time.Minute))
	require.False(t, exited)

	// Pullback to 130 must NOT breach the 125 trailing stop.
	_, exited = m.OnTick(context.Background(), "OPT_24800_CE", 130, now.Add(3*time.Minute))
	require.False(t, exited)

	// 150: trailingSL ratchets to 150-10 = 140.
	_, exited = m.OnTick(context.Background(), "OPT_24800_CE", 150, now.Add(4*time.Minute))
	require.False(t, exited)

	// 110 breaches the 140 trailing stop; the position fills at the
	// trailing-stop level, not the raw breaching tick.
	closed, exited := m.OnTick(context.Background(), "OPT_24800_CE", 110, now.Add(5*time.Minute))
	require.True(t, exited)
	assert.Equal(t, domain.ExitTrail, closed.ExitReason)
	assert.InDelta(t, 140, closed.ExitPrice, 0.001)
	assert.InDelta(t, (140.0-100.0)*75, closed.RealisedPnL, 0.001)
}

func TestTrailingStopNeverRatchetsDown(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 1000, now)

	m.OnTick(context.Background(), "OPT_24800_CE", 140, now.Add(time.Minute))   // trailOffset=20, trailingSL=120
	m.OnTick(context.Background(), "OPT_24800_CE", 130, now.Add(2*time.Minute)) // candidate=110, below 120, ignored

	closed, exited := m.OnTick(context.Background(), "OPT_24800_CE", 121, now.Add(3*time.Minute))
	require.False(t, exited, "121 must still be above the ratcheted 120 stop")
	_ = closed
}

func TestSquareOffDueClosesOpenPositions(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	sessionClose := time.Date(2026, 7, 30, 15, 30, 0, 0, time.UTC)
	notYet := m.SquareOffDue(context.Background(), sessionClose.Add(-15*time.Minute), sessionClose)
	assert.Empty(t, notYet)
	assert.Equal(t, 1, m.OpenCount())

	closed := m.SquareOffDue(context.Background(), sessionClose.Add(-5*time.Minute), sessionClose)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitSquareOff, closed[0].ExitReason)
	assert.Equal(t, 0, m.OpenCount())
}

func TestCloseManual(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	closed, ok := m.CloseManual(context.Background(), "OPT_24800_CE", 105, now.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, domain.ExitManual, closed.ExitReason)
	assert.InDelta(t, 5*75, closed.RealisedPnL, 0.001)
}

func TestCloseByID(t *testing.T) {
	m := newManager(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	opened := m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	closed, ok := m.CloseByID(context.Background(), opened.ID, 110, now.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, domain.ExitManual, closed.ExitReason)
	assert.InDelta(t, 10*75, closed.RealisedPnL, 0.001)
	assert.Equal(t, 0, m.OpenCount())

	_, ok = m.CloseByID(context.Background(), opened.ID, 110, now.Add(2*time.Minute))
	assert.False(t, ok, "closing an already-closed id must fail")

	_, ok = m.CloseByID(context.Background(), "not-a-real-id", 110, now)
	assert.False(t, ok)
}

func TestJournalPersistedAndReloaded(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "positions.json")
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	m1, err := NewManager(Config{JournalPath: journalPath, Clock: clockpkg.NewManualClock(now)})
	require.NoError(t, err)
	m1.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	m2, err := NewManager(Config{JournalPath: journalPath, Clock: clockpkg.NewManualClock(now)})
	require.NoError(t, err)
	assert.Equal(t, 1, m2.OpenCount())
}

func TestJournalAppendsOneLinePerStateChange(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "positions.jsonl")
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	m, err := NewManager(Config{JournalPath: journalPath, Clock: clockpkg.NewManualClock(now)})
	require.NoError(t, err)

	m.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)             // open
	m.OnTick(context.Background(), "OPT_24800_CE", 125, now.Add(time.Minute))   // trailing activates
	m.OnTick(context.Background(), "OPT_24800_CE", 60, now.Add(2*time.Minute))  // trail stop hit, closes

	raw, err := os.ReadFile(journalPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)

	var first, last domain.Position
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, domain.PositionOpen, first.Status)
	assert.Equal(t, domain.PositionClosed, last.Status)
	assert.Equal(t, first.ID, last.ID)
}

func TestReconcileUpdatesLastPriceBeforeTicks(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "positions.json")
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	m1, err := NewManager(Config{JournalPath: journalPath, Clock: clockpkg.NewManualClock(now)})
	require.NoError(t, err)
	m1.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, now)

	m2, err := NewManager(Config{JournalPath: journalPath, Clock: clockpkg.NewManualClock(now)})
	require.NoError(t, err)

	err = m2.Reconcile(context.Background(), func(ctx context.Context, key domain.InstrumentKey) (float64, error) {
		return 108, nil
	})
	require.NoError(t, err)

	open := m2.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, 108.0, open[0].LastPrice)
}
