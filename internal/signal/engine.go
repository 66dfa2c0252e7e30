// Package signal evaluates the eight-filter entry conjunction against the
// latest indicator/Greeks/PCR picture and issues BUY_CE, BUY_PE, or HOLD.
// Every filter treats a NaN observation as a failure: an indicator that
// hasn't warmed up can never pass a filter by omission.
package signal

import (
	"fmt"
	"math"
	"time"

	"nifty-options-engine/internal/domain"
)

// Cooldown is the minimum spacing between two signals of the same kind.
const Cooldown = 120 * time.Second

// MinQualityScore is the Greeks-leg quality floor required to pass the
// greeks filter.
const MinQualityScore = 50

// Inputs bundles everything one evaluation needs.
type Inputs struct {
	Now         time.Time
	Candle      domain.Candle
	Indicators  domain.IndicatorsView
	VolumeRatio float64 // latest candle volume / rolling average, NaN if not warmed up
	Greeks      domain.GreeksSnapshot
	PCR         domain.PCRView

	// RecentSupertrend holds, oldest first, the Supertrend direction of
	// the last two finalised candles. The entry-confirmation filter
	// requires both to agree with the proposed side.
	RecentSupertrend []string
}

// Engine holds per-kind cooldown state across evaluations.
type Engine struct {
	cooldown   time.Duration
	lastIssued map[domain.SignalKind]time.Time
}

// New creates an Engine with the default 120s cooldown and no history.
func New() *Engine {
	return NewWithCooldown(Cooldown)
}

// NewWithCooldown creates an Engine with a custom same-kind spacing.
func NewWithCooldown(d time.Duration) *Engine {
	if d <= 0 {
		d = Cooldown
	}
	return &Engine{cooldown: d, lastIssued: map[domain.SignalKind]time.Time{}}
}

// Evaluate runs the eight filters for both CE and PE candidates and
// returns the resulting Signal.
func (e *Engine) Evaluate(in Inputs) domain.Signal {
	ceFilters := e.filtersFor(in, domain.CE)
	peFilters := e.filtersFor(in, domain.PE)

	ceAllPass := allPass(ceFilters)
	peAllPass := allPass(peFilters)

	switch {
	case ceAllPass && peAllPass:
		return domain.Signal{
			Kind:       domain.Hold,
			Reason:     "contradictory filter set: both CE and PE conditions satisfied",
			Filters:    append(ceFilters, peFilters...),
			Confidence: confidence(ceFilters),
			IssuedAt:   in.Now,
			Diagnostic: "TIE",
		}
	case ceAllPass:
		return e.issue(in, domain.BuyCE, ceFilters)
	case peAllPass:
		return e.issue(in, domain.BuyPE, peFilters)
	default:
		best := ceFilters
		if confidence(peFilters) > confidence(ceFilters) {
			best = peFilters
		}
		return domain.Signal{
			Kind:       domain.Hold,
			Reason:     reasonFor(best),
			Filters:    best,
			Confidence: confidence(best),
			IssuedAt:   in.Now,
		}
	}
}

func (e *Engine) issue(in Inputs, kind domain.SignalKind, filters []domain.FilterResult) domain.Signal {
	last, seen := e.lastIssued[kind]
	if seen && in.Now.Sub(last) < e.cooldown {
		return domain.Signal{
			Kind:       domain.Hold,
			Reason:     fmt.Sprintf("%s conditions met but in cooldown", kind),
			Filters:    filters,
			Confidence: confidence(filters),
			IssuedAt:   in.Now,
			Diagnostic: "COOLDOWN",
		}
	}

	e.lastIssued[kind] = in.Now
	return domain.Signal{
		Kind:       kind,
		Reason:     reasonFor(filters),
		Filters:    filters,
		Confidence: confidence(filters),
		IssuedAt:   in.Now,
	}
}

func allPass(filters []domain.FilterResult) bool {
	for _, f := range filters {
		if !f.Passed {
			return false
		}
	}
	return true
}

func confidence(filters []domain.FilterResult) float64 {
	if len(filters) == 0 {
		return 0
	}
	passed := 0
	for _, f := range filters {
		if f.Passed {
			passed++
		}
	}
	return 100 * float64(passed) / float64(len(filters))
}

func reasonFor(filters []domain.FilterResult) string {
	for _, f := range filters {
		if !f.Passed {
			return fmt.Sprintf("%s filter failed", f.Name)
		}
	}
	return "all filters passed"
}

func (e *Engine) filtersFor(in Inputs, side domain.OptionType) []domain.FilterResult {
	bullish := side == domain.CE

	return []domain.FilterResult{
		supertrendFilter(in, bullish),
		emaFilter(in, bullish),
		rsiFilter(in, bullish),
		volatilityFilter(in),
		entryConfirmationFilter(in, bullish),
		greeksFilter(in, side),
		pcrFilter(in, bullish),
		volumeFilter(in),
	}
}

func supertrendFilter(in Inputs, bullish bool) domain.FilterResult {
	want := "BEARISH"
	if bullish {
		want = "BULLISH"
	}
	observed := 0.0
	if in.Indicators.Supertrend == want {
		observed = 1
	}
	return domain.FilterResult{Name: domain.FilterSupertrend, Passed: in.Indicators.Supertrend == want, Observed: observed}
}

func emaFilter(in Inputs, bullish bool) domain.FilterResult {
	if math.IsNaN(in.Indicators.EMA5) || math.IsNaN(in.Indicators.EMA20) {
		return domain.FilterResult{Name: domain.FilterEMA, Passed: false, Observed: math.NaN()}
	}
	spread := in.Indicators.EMA5 - in.Indicators.EMA20
	var passed bool
	if bullish {
		passed = spread > 0
	} else {
		passed = spread < 0
	}
	return domain.FilterResult{Name: domain.FilterEMA, Passed: passed, Observed: spread}
}

func rsiFilter(in Inputs, bullish bool) domain.FilterResult {
	rsi := in.Indicators.RSI
	if math.IsNaN(rsi) {
		return domain.FilterResult{Name: domain.FilterRSI, Passed: false, Observed: math.NaN()}
	}
	var passed bool
	if bullish {
		passed = rsi >= 50
	} else {
		passed = rsi <= 50
	}
	return domain.FilterResult{Name: domain.FilterRSI, Passed: passed, Observed: rsi}
}

func volatilityFilter(in Inputs) domain.FilterResult {
	atrPct := in.Indicators.ATRPct
	if math.IsNaN(atrPct) {
		return domain.FilterResult{Name: domain.FilterVolatility, Passed: false, Observed: math.NaN()}
	}
	passed := atrPct >= 0.01 && atrPct <= 2.5
	return domain.FilterResult{Name: domain.FilterVolatility, Passed: passed, Observed: atrPct}
}

func entryConfirmationFilter(in Inputs, bullish bool) domain.FilterResult {
	want := "BEARISH"
	if bullish {
		want = "BULLISH"
	}
	if len(in.RecentSupertrend) < 2 {
		return domain.FilterResult{Name: domain.FilterEntryConfirmation, Passed: false, Observed: math.NaN()}
	}
	last2 := in.RecentSupertrend[len(in.RecentSupertrend)-2:]
	passed := last2[0] == want && last2[1] == want
	observed := 0.0
	if passed {
		observed = 1
	}
	return domain.FilterResult{Name: domain.FilterEntryConfirmation, Passed: passed, Observed: observed}
}

func greeksFilter(in Inputs, side domain.OptionType) domain.FilterResult {
	leg := in.Greeks.CE
	if side == domain.PE {
		leg = in.Greeks.PE
	}
	if !leg.Converged {
		return domain.FilterResult{Name: domain.FilterGreeks, Passed: false, Observed: 0}
	}
	passed := leg.QualityScore >= MinQualityScore && leg.Theta > -150
	if side == domain.CE {
		passed = passed && leg.Delta > 0.2
	} else {
		passed = passed && leg.Delta < -0.2
	}
	return domain.FilterResult{Name: domain.FilterGreeks, Passed: passed, Observed: float64(leg.QualityScore)}
}

// pcrFilter gates on the raw PCR ratio, not the Sentiment classification
// bucket: BUY_CE wants PCR < 1.0, BUY_PE wants PCR > 1.0. A PCR within
// the Sentiment classifier's NEUTRAL band still passes here.
func pcrFilter(in Inputs, bullish bool) domain.FilterResult {
	var passed bool
	if bullish {
		passed = in.PCR.Value < 1.0
	} else {
		passed = in.PCR.Value > 1.0
	}
	return domain.FilterResult{Name: domain.FilterPCR, Passed: passed, Observed: in.PCR.Value}
}

// volumeFilter wants participation, not expansion: the current candle
// only has to carry more than 70% of the rolling average volume.
func volumeFilter(in Inputs) domain.FilterResult {
	ratio := in.VolumeRatio
	if math.IsNaN(ratio) {
		return domain.FilterResult{Name: domain.FilterVolume, Passed: false, Observed: math.NaN()}
	}
	return domain.FilterResult{Name: domain.FilterVolume, Passed: ratio > 0.7, Observed: ratio}
}
