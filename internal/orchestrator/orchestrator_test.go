package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	"nifty-options-engine/libs/risk"
	clockpkg "nifty-options-engine/libs/testing"
)

const testIndexKey = domain.InstrumentKey("NSE_INDEX|Nifty 50")

type staticSource struct{ instruments []domain.Instrument }

func (s staticSource) Load(ctx context.Context) ([]domain.Instrument, error) {
	return s.instruments, nil
}

func testInstruments(exp time.Time) []domain.Instrument {
	opt := func(key string, strike float64, ot domain.OptionType) domain.Instrument {
		return domain.Instrument{Key: domain.InstrumentKey(key), Symbol: "NIFTY",
			Segment: domain.SegmentOption, OptionType: ot, Strike: strike,
			Expiry: exp, LotSize: 75, TickSize: 0.05}
	}
	return []domain.Instrument{
		{Key: testIndexKey, Symbol: "NIFTY", Segment: domain.SegmentIndex, LotSize: 75, TickSize: 0.05},
		opt("OPT_24800_CE", 24800, domain.CE),
		opt("OPT_24800_PE", 24800, domain.PE),
		opt("OPT_24850_CE", 24850, domain.CE),
		opt("OPT_24850_PE", 24850, domain.PE),
	}
}

func testEngine(t *testing.T, start time.Time) (*Engine, *clockpkg.ManualClock) {
	t.Helper()
	clock := clockpkg.NewManualClock(start)

	reg := registry.New(staticSource{instruments: testInstruments(start.Add(7 * 24 * time.Hour))}, 50)
	require.NoError(t, reg.Refresh(context.Background()))

	positions, err := position.NewManager(position.Config{
		JournalPath: filepath.Join(t.TempDir(), "positions.json"),
		Clock:       clock,
	})
	require.NoError(t, err)

	paper := orders.NewPaperBackend(200_000, "")
	eng := New(Config{
		Registry:       reg,
		Conn:           feed.NewConn("ws://unused", "opaque-test-token"),
		Candles:        candle.New(5*time.Minute, candle.DefaultRingSize),
		Indicators:     indicators.New(),
		Greeks:         greeks.New(0.06, clock),
		PCR:            pcr.New(clock),
		Signal:         signal.New(),
		Risk:           risk.NewEnforcer(risk.DefaultPolicy()),
		Orders:         orders.NewManager(paper),
		Positions:      positions,
		Symbol:         "NIFTY",
		IndexKey:       testIndexKey,
		LotSize:        75,
		Clock:          clock,
		PCRRange:       500,
		BrokerToken:    "opaque-test-token",
		InitialCapital: 200_000,
		PaperBackend:   paper,
	})
	eng.SetSession(
		time.Date(start.Year(), start.Month(), start.Day(), 9, 15, 0, 0, time.UTC),
		time.Date(start.Year(), start.Month(), start.Day(), 15, 30, 0, 0, time.UTC),
	)
	return eng, clock
}

func TestHandleIndexCandleFoldsEachCandleOnce(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)
	ctx := context.Background()

	// Five finalised buckets with closes 100..108 warm EMA(5) exactly,
	// committing the seed average 104.
	for i, ltp := range []float64{100, 102, 104, 106, 108} {
		eng.cfg.Candles.OnTick(domain.Tick{Instrument: testIndexKey, TS: start.Add(time.Duration(i) * 5 * time.Minute), LTP: ltp, LTQ: 10})
	}
	eng.cfg.Candles.OnTick(domain.Tick{Instrument: testIndexKey, TS: start.Add(25 * time.Minute), LTP: 108, LTQ: 10})

	eng.handleIndexCandle(ctx, start.Add(25*time.Minute))
	// EMA5 = 104 after the warm-up window; a provisional 110 peeks at
	// 110/3 + 104*2/3 = 106. A double-folded final candle would have
	// moved the committed value to 105.33 and the peek to 106.89.
	view := eng.cfg.Indicators.PeekIntraCandle(110)
	assert.InDelta(t, 106.0, view.EMA5, 0.01)

	// Repeated sweeps with no new candle must not fold anything again.
	eng.handleIndexCandle(ctx, start.Add(26*time.Minute))
	eng.handleIndexCandle(ctx, start.Add(27*time.Minute))
	view = eng.cfg.Indicators.PeekIntraCandle(110)
	assert.InDelta(t, 106.0, view.EMA5, 0.01)
}

func TestHandleIndexCandleSyncsPCRWindow(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)
	ctx := context.Background()

	eng.cfg.Candles.OnTick(domain.Tick{Instrument: testIndexKey, TS: start, LTP: 24810, LTQ: 10})
	eng.cfg.Candles.OnTick(domain.Tick{Instrument: testIndexKey, TS: start.Add(5 * time.Minute), LTP: 24810, LTQ: 10})

	eng.handleIndexCandle(ctx, start.Add(5*time.Minute))

	// ATM 24800, range 500: both listed strikes fall inside the window.
	require.Len(t, eng.pcrKeys, 4)
	assert.Equal(t, domain.InstrumentKey("OPT_24800_CE"), eng.pcrKeys[0])
}

func TestSnapshotHaltsTradingOnDailyLossBreach(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)
	ctx := context.Background()

	eng.emitSnapshot(ctx, start)
	require.True(t, eng.Latest().Risk.TradingAllowed)

	// Default policy halts at 3% of initial capital; -10k on 200k is 5%.
	eng.addRealised(-10_000)
	eng.emitSnapshot(ctx, start.Add(time.Minute))

	snap := eng.Latest()
	assert.False(t, snap.Risk.TradingAllowed)
	assert.InDelta(t, -10_000, snap.Risk.DailyPnL, 0.001)
	assert.InDelta(t, 190_000, snap.Risk.CurrentBalance, 0.001)
	// Auth and indicators keep flowing despite the halt.
	assert.True(t, snap.Auth.Authenticated)
}

func TestStopAndStartToggleOperatorHalt(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)
	ctx := context.Background()

	snap := eng.Stop(ctx)
	assert.False(t, snap.Risk.TradingAllowed)

	snap = eng.Start(ctx)
	assert.True(t, snap.Risk.TradingAllowed)
}

func TestClosePositionCommand(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)
	ctx := context.Background()

	opened := eng.cfg.Positions.Open("OPT_24800_CE", domain.CE, 24800, 100, 75, 70, 160, start)

	snap, err := eng.ClosePosition(ctx, opened.ID, 110)
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.InDelta(t, 10*75, snap.Risk.DailyPnL, 0.001)

	_, err = eng.ClosePosition(ctx, "no-such-id", 110)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CommandErrUnknownPosition, cmdErr.Code)
}

func TestSetModeRejectsUnknownAndMissingBackend(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)

	require.NoError(t, eng.SetMode("PAPER"))
	assert.Equal(t, "PAPER", eng.Mode())

	var cmdErr *CommandError
	err := eng.SetMode("LIVE") // no live backend wired in tests
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CommandErrBackendMissing, cmdErr.Code)

	err = eng.SetMode("SANDBOX")
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CommandErrInvalidMode, cmdErr.Code)
}

func TestDispatchSnapshotDropsOldestUnderBackpressure(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)
	eng.cfg.PublishSnapshot = func(domain.Snapshot) {} // enable dispatch; no drain

	eng.dispatchSnapshot(domain.Snapshot{TS: start})
	eng.dispatchSnapshot(domain.Snapshot{TS: start.Add(time.Second)})
	eng.dispatchSnapshot(domain.Snapshot{TS: start.Add(2 * time.Second)})

	// With nobody draining, only the newest snapshot survives the
	// size-1 buffer; the engine loop never blocked to make room.
	select {
	case snap := <-eng.snapOut:
		assert.Equal(t, start.Add(2*time.Second), snap.TS)
	default:
		t.Fatal("expected one queued snapshot")
	}
	select {
	case snap := <-eng.snapOut:
		t.Fatalf("expected buffer drained, found %v", snap.TS)
	default:
	}
}

func TestAddFundsRequiresPaperModeAndPositiveAmount(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	eng, _ := testEngine(t, start)
	ctx := context.Background()

	snap, err := eng.AddFunds(ctx, 50_000)
	require.NoError(t, err)
	assert.InDelta(t, 250_000, snap.Risk.InitialCapital, 0.001)

	_, err = eng.AddFunds(ctx, -5)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CommandErrInvalidAmount, cmdErr.Code)
}
