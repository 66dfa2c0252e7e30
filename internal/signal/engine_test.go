package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nifty-options-engine/internal/domain"
	clockpkg "nifty-options-engine/libs/testing"
)

func bullishInputs(now time.Time) Inputs {
	return Inputs{
		Now:    now,
		Candle: domain.Candle{Open: 100, High: 105, Low: 99, Close: 104},
		Indicators: domain.IndicatorsView{
			RSI: 60, EMA5: 105, EMA20: 100, ATRPct: 0.5, Supertrend: "BULLISH",
		},
		VolumeRatio: 1.5,
		Greeks: domain.GreeksSnapshot{
			CE: domain.Leg{Converged: true, QualityScore: 80, Delta: 0.55, Theta: -18},
			PE: domain.Leg{Converged: true, QualityScore: 80, Delta: -0.55, Theta: -18},
		},
		PCR:              domain.PCRView{Sentiment: domain.SentimentBullish, Value: 0.7},
		RecentSupertrend:  []string{"BULLISH", "BULLISH"},
	}
}

func TestEvaluateIssuesBuyCEWhenAllFiltersPass(t *testing.T) {
	e := New()
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	sig := e.Evaluate(bullishInputs(now))
	assert.Equal(t, domain.BuyCE, sig.Kind)
	assert.Equal(t, 100.0, sig.Confidence)
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	e := New()
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	first := e.Evaluate(bullishInputs(now))
	assert.Equal(t, domain.BuyCE, first.Kind)

	second := e.Evaluate(bullishInputs(now.Add(30 * time.Second)))
	assert.Equal(t, domain.Hold, second.Kind)
	assert.Equal(t, "COOLDOWN", second.Diagnostic)

	third := e.Evaluate(bullishInputs(now.Add(130 * time.Second)))
	assert.Equal(t, domain.BuyCE, third.Kind)
}

func TestEvaluateHoldsOnNaNIndicator(t *testing.T) {
	e := New()
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	in := bullishInputs(now)
	in.Indicators.RSI = nanValue()
	sig := e.Evaluate(in)
	assert.Equal(t, domain.Hold, sig.Kind)
}

func nanValue() float64 {
	var f float64
	return f / f // NaN without importing math twice across test files
}

func TestEvaluateSingleFilterFailReportsPartialConfidence(t *testing.T) {
	e := New()
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	in := bullishInputs(now)
	in.Indicators.RSI = 47 // fails the CE condition, everything else passes

	sig := e.Evaluate(in)
	assert.Equal(t, domain.Hold, sig.Kind)
	assert.Equal(t, 87.5, sig.Confidence)

	var rsiRow *domain.FilterResult
	for i := range sig.Filters {
		if sig.Filters[i].Name == domain.FilterRSI {
			rsiRow = &sig.Filters[i]
		}
	}
	if assert.NotNil(t, rsiRow) {
		assert.False(t, rsiRow.Passed)
		assert.Equal(t, 47.0, rsiRow.Observed)
	}
}

func TestVolumeFilterAcceptsSeventyPercentOfAverage(t *testing.T) {
	e := New()
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	in := bullishInputs(now)
	in.VolumeRatio = 0.8 // below average but above the 0.7 participation floor
	assert.Equal(t, domain.BuyCE, e.Evaluate(in).Kind)

	in2 := bullishInputs(now.Add(5 * time.Minute))
	in2.VolumeRatio = 0.6
	assert.Equal(t, domain.Hold, New().Evaluate(in2).Kind)
}

func TestEvaluateIsDeepEqualAcrossIndependentEngines(t *testing.T) {
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	a := New().Evaluate(bullishInputs(now))
	b := New().Evaluate(bullishInputs(now))
	clockpkg.AssertDeepEqual(t, a, b)
	clockpkg.MustMarshal(t, a) // confirms the result is JSON-serialisable for snapshot fan-out
}

func TestEvaluatePassesOnNeutralSentimentBandBelowOne(t *testing.T) {
	// PCR=0.99 falls in the Sentiment classifier's NEUTRAL band (≈1.0±ε)
	// but the entry filter gates on the raw ratio, not the
	// classification, so BUY_CE still passes.
	e := New()
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	in := bullishInputs(now)
	in.PCR = domain.PCRView{Sentiment: domain.SentimentNeutral, Value: 0.99}
	sig := e.Evaluate(in)
	assert.Equal(t, domain.BuyCE, sig.Kind)
}

func TestEvaluateHoldsWhenPCRAtOrAboveOneForBuyCE(t *testing.T) {
	e := New()
	now := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	in := bullishInputs(now)
	in.PCR = domain.PCRView{Sentiment: domain.SentimentBearish, Value: 1.2}
	sig := e.Evaluate(in)
	assert.Equal(t, domain.Hold, sig.Kind)
}
