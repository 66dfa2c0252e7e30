package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/domain"
)

func TestEMAStaysUninitialisedUntilPeriodSamples(t *testing.T) {
	e := NewEMA(5)
	for _, price := range []float64{100, 102, 104, 106} {
		assert.True(t, math.IsNaN(e.Update(price)))
		assert.False(t, e.Ready())
	}

	// The fifth sample completes the warm-up window and commits its
	// simple average as the starting value.
	assert.InDelta(t, 104.0, e.Update(108), 0.001)
	assert.True(t, e.Ready())

	// From here the recursion takes over: alpha = 2/6.
	assert.InDelta(t, 106.0, e.Update(110), 0.001)
}

func TestEMAPeekDoesNotMutateState(t *testing.T) {
	e := NewEMA(5)
	for _, price := range []float64{100, 102, 104, 106, 108} {
		e.Update(price)
	}
	require.InDelta(t, 104.0, e.Value(), 0.001)

	peeked := e.Peek(110)
	assert.InDelta(t, 106.0, peeked, 0.001)
	// Peek must not have committed: the next real Update still starts
	// from the pre-peek value of 104, not the peeked 106.
	assert.InDelta(t, 104.0, e.Value(), 0.001)
	assert.InDelta(t, 106.0, e.Update(110), 0.001)
}

func TestEMAPeekDuringWarmup(t *testing.T) {
	e := NewEMA(2)
	e.Update(100)
	assert.False(t, e.Ready())

	// The peeked price would be the completing sample: Peek mirrors
	// Update and reports the would-be seed average without committing.
	assert.InDelta(t, 105.0, e.Peek(110), 0.001)
	assert.True(t, math.IsNaN(e.Value()))

	// One sample earlier even Peek has nothing to report.
	fresh := NewEMA(3)
	assert.True(t, math.IsNaN(fresh.Peek(100)))
}

func TestIntraCandleCrossoverDetectsProvisionalFlipWithoutCommitting(t *testing.T) {
	s := New()
	base := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	candle := func(close float64) domain.Candle {
		return domain.Candle{Start: base, End: base.Add(time.Minute), Open: close, High: close, Low: close, Close: close, Volume: 10}
	}

	for _, c := range []float64{100, 95, 90, 85, 80, 75, 70, 65, 60, 55, 50, 45, 40, 35, 30, 25, 20, 15, 10, 5} {
		s.OnCandle(candle(c))
	}
	require.False(t, s.EMA5AboveEMA20())

	// A provisional rally large enough to flip EMA5 above EMA20 is
	// detected via the incomplete candle's close...
	require.Equal(t, CrossoverBull, s.IntraCandleCrossover(500))
	// ...but peeking must not have committed anything: the committed
	// alignment, and a repeated peek, are unchanged.
	assert.False(t, s.EMA5AboveEMA20())
	assert.Equal(t, CrossoverBull, s.IntraCandleCrossover(500))

	view := s.PeekIntraCandle(500)
	assert.Greater(t, view.EMA5, view.EMA20)
}

func TestRSIReturnsNaNDuringWarmup(t *testing.T) {
	r := NewRSI(14)
	assert.True(t, math.IsNaN(r.Update(100)))
	for i := 0; i < 13; i++ {
		assert.True(t, math.IsNaN(r.Update(100+float64(i))))
	}
	v := r.Update(120)
	assert.False(t, math.IsNaN(v))
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestRSIAllGainsApproaches100(t *testing.T) {
	r := NewRSI(14)
	price := 100.0
	var last float64
	for i := 0; i < 20; i++ {
		price += 1
		last = r.Update(price)
	}
	assert.Greater(t, last, 90.0)
}

func TestATRWarmupThenStable(t *testing.T) {
	a := NewATR(14)
	for i := 0; i < 13; i++ {
		assert.True(t, math.IsNaN(a.Update(105, 95, 100)))
	}
	v := a.Update(105, 95, 100)
	assert.False(t, math.IsNaN(v))
	assert.InDelta(t, 10.0, v, 0.01)
}

func TestVWAPResetsPerSession(t *testing.T) {
	v := NewVWAP()
	assert.InDelta(t, 100.0, v.Update(100, 10), 0.001)
	assert.InDelta(t, 105.0, v.Update(110, 10), 0.001)
	v.Reset()
	assert.True(t, math.IsNaN(v.Value()))
	assert.InDelta(t, 50.0, v.Update(50, 1), 0.001)
}

func TestVolumeAverageWarmup(t *testing.T) {
	va := NewVolumeAverage(3)
	assert.True(t, math.IsNaN(va.Update(10)))
	assert.True(t, math.IsNaN(va.Update(20)))
	assert.InDelta(t, 20.0, va.Update(30), 0.001)
	assert.InDelta(t, 110.0/3, va.Update(60), 0.001) // window slides: (20+30+60)/3
}

func TestSupertrendFlipsDirection(t *testing.T) {
	st := NewSupertrend(3, 2)
	var bullish bool
	for i := 0; i < 5; i++ {
		_, bullish = st.Update(110, 90, 100)
	}
	assert.True(t, st.Ready())
	_ = bullish

	// sustained strong downmove should eventually flip to bearish
	for i := 0; i < 10; i++ {
		_, bullish = st.Update(60, 40, 50)
	}
	assert.False(t, bullish)
}

func TestCrossoverDetection(t *testing.T) {
	s := New()
	base := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	candle := func(close float64) domain.Candle {
		return domain.Candle{Start: base, End: base.Add(time.Minute), Open: close, High: close, Low: close, Close: close, Volume: 10}
	}

	// feed a falling sequence so EMA5 stays below EMA20
	for i, c := range []float64{100, 95, 90, 85, 80, 75, 70, 65, 60, 55, 50, 45, 40, 35, 30, 25, 20, 15, 10, 5} {
		_ = i
		s.OnCandle(candle(c))
	}
	assert.False(t, s.EMA5AboveEMA20())

	// now a sharp rally should eventually cross EMA5 above EMA20
	var cx Crossover
	for i := 0; i < 10; i++ {
		v := s.OnCandle(candle(200))
		_ = v
		if s.Crossover() != CrossoverNone {
			cx = s.Crossover()
			break
		}
	}
	assert.Equal(t, CrossoverBull, cx)
}

func TestRecentSupertrendTracksLastTwoDirectionsOnly(t *testing.T) {
	s := New()
	base := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	candle := func(i int, o, h, l, c float64) domain.Candle {
		start := base.Add(time.Duration(i) * time.Minute)
		return domain.Candle{Start: start, End: start.Add(time.Minute), Open: o, High: h, Low: l, Close: c, Volume: 10}
	}

	for i := 0; i < 5; i++ {
		s.OnCandle(candle(i, 100, 110, 90, 100))
	}
	assert.LessOrEqual(t, len(s.RecentSupertrend()), 2)

	for i := 5; i < 15; i++ {
		s.OnCandle(candle(i, 50, 60, 40, 50))
	}
	recent := s.RecentSupertrend()
	require.Len(t, recent, 2)
	assert.Equal(t, recent[len(recent)-1], recent[len(recent)-2], "a sustained single-direction move settles both recent slots to the same direction")
}
