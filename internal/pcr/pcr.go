// Package pcr aggregates CE/PE open interest into a put-call ratio with
// sentiment and trend classification, emitted on a 5-second coalesced
// timer.
package pcr

import (
	"math"
	"time"

	"nifty-options-engine/internal/domain"
	clockpkg "nifty-options-engine/libs/testing"
)

// EmitInterval is the coalescing window between PCR emissions.
const EmitInterval = 5 * time.Second

// TrendWindow is the number of recent samples used to classify trend.
const TrendWindow = 12

const neutralEpsilon = 0.02

// Aggregator tracks per-contract OI contributions and the rolling PCR
// sample window used for trend classification.
type Aggregator struct {
	clock clockpkg.Clock

	ceOI     map[domain.InstrumentKey]int64
	peOI     map[domain.InstrumentKey]int64
	totalCE  int64
	totalPE  int64

	samples  []float64
	lastEmit time.Time
	haveEmit bool
}

// New creates an empty Aggregator.
func New(clock clockpkg.Clock) *Aggregator {
	if clock == nil {
		clock = clockpkg.SystemClock{}
	}
	return &Aggregator{
		clock: clock,
		ceOI:  map[domain.InstrumentKey]int64{},
		peOI:  map[domain.InstrumentKey]int64{},
	}
}

// UpdateCE overwrites key's CE OI contribution (the broker reports the
// contract's total OI each tick, not a delta) and adjusts the running total.
func (a *Aggregator) UpdateCE(key domain.InstrumentKey, oi int64) {
	prev := a.ceOI[key]
	a.totalCE += oi - prev
	a.ceOI[key] = oi
}

// UpdatePE overwrites key's PE OI contribution.
func (a *Aggregator) UpdatePE(key domain.InstrumentKey, oi int64) {
	prev := a.peOI[key]
	a.totalPE += oi - prev
	a.peOI[key] = oi
}

// Retain drops the contribution of every contract not in keep, adjusting
// both totals in the same step so a shifted strike window is never
// observable half-applied. Contracts in keep that have not ticked yet
// simply contribute nothing until their first OI-bearing tick.
func (a *Aggregator) Retain(keep []domain.InstrumentKey) {
	set := make(map[domain.InstrumentKey]struct{}, len(keep))
	for _, k := range keep {
		set[k] = struct{}{}
	}
	for k, oi := range a.ceOI {
		if _, ok := set[k]; !ok {
			a.totalCE -= oi
			delete(a.ceOI, k)
		}
	}
	for k, oi := range a.peOI {
		if _, ok := set[k]; !ok {
			a.totalPE -= oi
			delete(a.peOI, k)
		}
	}
}

// ReadyToEmit reports whether EmitInterval has elapsed since the last emission.
func (a *Aggregator) ReadyToEmit() bool {
	if !a.haveEmit {
		return true
	}
	return a.clock.Now().Sub(a.lastEmit) >= EmitInterval
}

// Emit computes the current PCRState, records a sample for trend
// classification, and resets the emission timer.
func (a *Aggregator) Emit() domain.PCRState {
	a.lastEmit = a.clock.Now()
	a.haveEmit = true

	pcrValue := math.NaN()
	if a.totalCE > 0 {
		pcrValue = float64(a.totalPE) / float64(a.totalCE)
	}

	a.samples = append(a.samples, pcrValue)
	if len(a.samples) > TrendWindow {
		a.samples = a.samples[len(a.samples)-TrendWindow:]
	}

	return domain.PCRState{
		TotalCEOI:   a.totalCE,
		TotalPEOI:   a.totalPE,
		PCR:         pcrValue,
		Sentiment:   classify(pcrValue),
		Trend:       trend(a.samples),
		SampleCount: len(a.samples),
		LastUpdate:  a.lastEmit,
	}
}

func classify(pcr float64) domain.PCRSentiment {
	if math.IsNaN(pcr) {
		return domain.SentimentNeutral
	}
	switch {
	case math.Abs(pcr-1.0) <= neutralEpsilon:
		return domain.SentimentNeutral
	case pcr > 1.5:
		return domain.SentimentExtremeBearish
	case pcr > 1.0:
		return domain.SentimentBearish
	case pcr >= 0.5:
		return domain.SentimentBullish
	default:
		return domain.SentimentExtremeBullish
	}
}

// trend fits the sign of the slope across the sample window via simple
// least-squares regression, ignoring NaN samples.
func trend(samples []float64) domain.PCRTrend {
	var xs, ys []float64
	for i, v := range samples {
		if math.IsNaN(v) {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, v)
	}
	if len(xs) < 2 {
		return domain.TrendFlat
	}

	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return domain.TrendFlat
	}
	slope := (n*sumXY - sumX*sumY) / denom

	const flatThreshold = 1e-4
	switch {
	case slope > flatThreshold:
		return domain.TrendUp
	case slope < -flatThreshold:
		return domain.TrendDown
	default:
		return domain.TrendFlat
	}
}
