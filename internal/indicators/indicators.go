// Package indicators computes streaming technical indicators from
// finalised candles: Wilder RSI/ATR, EMA, Supertrend, session VWAP, and a
// rolling volume average. Every tracker reports math.NaN
// until its warm-up window has filled; callers treat NaN as a failed
// filter rather than substituting a default.
package indicators

import (
	"math"

	"nifty-options-engine/internal/domain"
)

// Crossover identifies an EMA5/EMA20 sign flip between consecutive candles.
type Crossover string

const (
	CrossoverNone  Crossover = ""
	CrossoverBull  Crossover = "BULL_CROSS"
	CrossoverBear  Crossover = "BEAR_CROSS"
)

// Set bundles the full indicator panel for one instrument.
type Set struct {
	rsi        *RSI
	atr        *ATR
	supertrend *Supertrend
	vwap       *VWAP
	ema5       *EMA
	ema20      *EMA
	volAvg     *VolumeAverage

	prevEMA5AboveEMA20 bool
	haveCrossState     bool
	lastCrossover      Crossover

	stHistory []string // last finalised Supertrend directions, oldest first, capped at 2

	lastView domain.IndicatorsView // most recent finalised-candle view, reused by intra-candle peeks
}

// New creates an indicator Set with the standard default periods:
// RSI(14), ATR(14), Supertrend(10,3), EMA(5), EMA(20), volume average(20).
func New() *Set {
	return &Set{
		rsi:        NewRSI(14),
		atr:        NewATR(14),
		supertrend: NewSupertrend(10, 3),
		vwap:       NewVWAP(),
		ema5:       NewEMA(5),
		ema20:      NewEMA(20),
		volAvg:     NewVolumeAverage(20),
	}
}

// ResetSession clears session-scoped state (VWAP) at the start of a new
// trading day; the other trackers carry over across sessions.
func (s *Set) ResetSession() { s.vwap.Reset() }

// OnCandle folds a newly-finalised candle into every tracker and returns
// the flattened view used by the snapshot and signal engine.
func (s *Set) OnCandle(c domain.Candle) domain.IndicatorsView {
	rsi := s.rsi.Update(c.Close)
	atr := s.atr.Update(c.High, c.Low, c.Close)
	_, bullish := s.supertrend.Update(c.High, c.Low, c.Close)
	vwap := s.vwap.Update(c.Close, c.Volume)
	ema5 := s.ema5.Update(c.Close)
	ema20 := s.ema20.Update(c.Close)
	s.volAvg.Update(c.Volume)

	s.updateCrossover(ema5, ema20)

	atrPct := math.NaN()
	if !math.IsNaN(atr) && c.Close != 0 {
		atrPct = atr / c.Close * 100
	}

	direction := "BEARISH"
	if !s.supertrend.Ready() {
		direction = ""
	} else if bullish {
		direction = "BULLISH"
	}
	if direction != "" {
		s.stHistory = append(s.stHistory, direction)
		if len(s.stHistory) > 2 {
			s.stHistory = s.stHistory[len(s.stHistory)-2:]
		}
	}

	view := domain.IndicatorsView{
		RSI:        rsi,
		EMA5:       ema5,
		EMA20:      ema20,
		ATRPct:     atrPct,
		VWAP:       vwap,
		Supertrend: direction,
	}
	s.lastView = view
	return view
}

// PeekIntraCandle folds the live incomplete candle's current close into
// EMA(5)/EMA(20) as a provisional bar, without committing it, and
// returns the last finalised-candle view with only those two fields
// replaced. RSI, ATR, and Supertrend stay pinned to their last
// finalised values: they only advance on candle close.
func (s *Set) PeekIntraCandle(provisionalClose float64) domain.IndicatorsView {
	view := s.lastView
	view.EMA5 = s.ema5.Peek(provisionalClose)
	view.EMA20 = s.ema20.Peek(provisionalClose)
	return view
}

// IntraCandleCrossover reports the EMA5/EMA20 crossover implied by
// folding provisionalClose in as a provisional bar, against the last
// committed alignment, without mutating any tracker state.
func (s *Set) IntraCandleCrossover(provisionalClose float64) Crossover {
	if !s.ema5.Ready() || !s.ema20.Ready() || !s.haveCrossState {
		return CrossoverNone
	}
	above := s.ema5.Peek(provisionalClose) > s.ema20.Peek(provisionalClose)
	switch {
	case above && !s.prevEMA5AboveEMA20:
		return CrossoverBull
	case !above && s.prevEMA5AboveEMA20:
		return CrossoverBear
	default:
		return CrossoverNone
	}
}

func (s *Set) updateCrossover(ema5, ema20 float64) {
	if !s.ema5.Ready() || !s.ema20.Ready() {
		s.lastCrossover = CrossoverNone
		return
	}
	above := ema5 > ema20
	if !s.haveCrossState {
		s.prevEMA5AboveEMA20 = above
		s.haveCrossState = true
		s.lastCrossover = CrossoverNone
		return
	}
	switch {
	case above && !s.prevEMA5AboveEMA20:
		s.lastCrossover = CrossoverBull
	case !above && s.prevEMA5AboveEMA20:
		s.lastCrossover = CrossoverBear
	default:
		s.lastCrossover = CrossoverNone
	}
	s.prevEMA5AboveEMA20 = above
}

// Crossover returns the EMA5/EMA20 crossover detected on the most recent candle.
func (s *Set) Crossover() Crossover { return s.lastCrossover }

// RecentSupertrend returns the last two finalised Supertrend directions,
// oldest first; fewer than two are returned until warm-up completes.
func (s *Set) RecentSupertrend() []string {
	out := make([]string, len(s.stHistory))
	copy(out, s.stHistory)
	return out
}

// EMA5AboveEMA20 reports the current alignment, for filters that accept
// either a fresh cross or continued alignment (open question, see design notes).
func (s *Set) EMA5AboveEMA20() bool { return s.prevEMA5AboveEMA20 }

// VolumeRatio returns the latest candle volume divided by the rolling
// average, or NaN until the average has warmed up.
func (s *Set) VolumeRatio(lastVolume int64) float64 {
	avg := s.volAvgValue()
	if math.IsNaN(avg) || avg == 0 {
		return math.NaN()
	}
	return float64(lastVolume) / avg
}

func (s *Set) volAvgValue() float64 {
	if len(s.volAvg.window) < s.volAvg.size {
		return math.NaN()
	}
	return float64(s.volAvg.sum) / float64(s.volAvg.size)
}
