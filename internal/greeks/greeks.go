package greeks

import (
	"math"
	"time"

	"nifty-options-engine/internal/domain"
	clockpkg "nifty-options-engine/libs/testing"
)

// MinRecomputeInterval is the floor between Greeks recomputations; spot
// ticks arriving faster than this are coalesced.
const MinRecomputeInterval = 200 * time.Millisecond

// Engine recomputes the ATM CE/PE Greeks pair, rate-limited and only on
// a meaningful change in inputs (ATM strike or either leg's price).
type Engine struct {
	riskFreeRate float64
	clock        clockpkg.Clock

	lastComputeAt time.Time
	lastATMStrike float64
	lastCEPrice   float64
	lastPEPrice   float64
	have          bool
}

// New creates a Greeks engine at the given annualised risk-free rate.
func New(riskFreeRate float64, clock clockpkg.Clock) *Engine {
	if clock == nil {
		clock = clockpkg.SystemClock{}
	}
	return &Engine{riskFreeRate: riskFreeRate, clock: clock}
}

// ShouldRecompute reports whether enough time has passed and the inputs
// changed meaningfully since the last computation.
func (e *Engine) ShouldRecompute(atmStrike, cePrice, pePrice float64) bool {
	now := e.clock.Now()
	if !e.have {
		return true
	}
	if now.Sub(e.lastComputeAt) < MinRecomputeInterval {
		return false
	}
	return atmStrike != e.lastATMStrike || cePrice != e.lastCEPrice || pePrice != e.lastPEPrice
}

// Compute prices the ATM CE/PE pair, solves each leg's implied vol, and
// derives the full Greeks plus a 0-100 quality score. Expiry is the
// contract's calendar expiry date; now is used for time-to-expiry.
func (e *Engine) Compute(spot, atmStrike float64, cePrice, pePrice float64, expiry, now time.Time) domain.GreeksSnapshot {
	t := yearsToExpiry(expiry, now)

	ce := e.leg(spot, atmStrike, cePrice, t, true)
	pe := e.leg(spot, atmStrike, pePrice, t, false)

	e.lastComputeAt = e.clock.Now()
	e.lastATMStrike = atmStrike
	e.lastCEPrice = cePrice
	e.lastPEPrice = pePrice
	e.have = true

	dte := t * 365

	return domain.GreeksSnapshot{
		ATMStrike:  atmStrike,
		Expiry:     expiry,
		CE:         e.withQuality(ce, spot, atmStrike, dte),
		PE:         e.withQuality(pe, spot, atmStrike, dte),
		ComputedAt: e.clock.Now(),
	}
}

func (e *Engine) leg(spot, strike, price, t float64, isCall bool) domain.Leg {
	if t <= 0 {
		return domain.Leg{Converged: false}
	}
	sigma, converged := ImpliedVol(price, spot, strike, e.riskFreeRate, t, isCall)
	if !converged {
		return domain.Leg{Price: price, Converged: false}
	}
	return domain.Leg{
		Delta:     Delta(spot, strike, e.riskFreeRate, sigma, t, isCall),
		Gamma:     Gamma(spot, strike, e.riskFreeRate, sigma, t),
		Theta:     ThetaPerDay(spot, strike, e.riskFreeRate, sigma, t, isCall),
		Vega:      Vega(spot, strike, e.riskFreeRate, sigma, t),
		Rho:       Rho(spot, strike, e.riskFreeRate, sigma, t, isCall),
		IV:        sigma,
		Price:     price,
		Converged: true,
	}
}

func (e *Engine) withQuality(leg domain.Leg, spot, strike, dte float64) domain.Leg {
	leg.QualityScore = qualityScore(leg, spot, strike, dte)
	return leg
}

// qualityScore sums four components: moneyness (0-30), days-to-expiry
// bucket (0-30), IV reasonableness (0-20), and Greek stability (0-20).
func qualityScore(leg domain.Leg, spot, strike, dte float64) int {
	if !leg.Converged {
		return 0
	}

	score := 0

	moneyness := math.Abs(spot-strike) / spot
	switch {
	case moneyness < 0.01:
		score += 30
	case moneyness < 0.05:
		score += 25
	case moneyness < 0.10:
		score += 20
	case moneyness < 0.20:
		score += 10
	}

	switch {
	case dte >= 5 && dte <= 30:
		score += 30
	case (dte >= 2 && dte < 5) || (dte > 30 && dte <= 60):
		score += 20
	case (dte >= 1 && dte < 2) || (dte > 60 && dte <= 90):
		score += 10
	}

	switch {
	case leg.IV >= 0.10 && leg.IV <= 1.0:
		score += 20
	case (leg.IV >= 0.05 && leg.IV < 0.10) || (leg.IV > 1.0 && leg.IV <= 1.5):
		score += 10
	}

	gammaStable := leg.Gamma >= 1e-4 && leg.Gamma <= 1e-2
	vegaStable := leg.Vega >= 1e-2 && leg.Vega <= 1
	switch {
	case gammaStable && vegaStable:
		score += 20
	case leg.Gamma > 0 && leg.Vega > 0:
		score += 10
	}

	return score
}

func yearsToExpiry(expiry, now time.Time) float64 {
	d := expiry.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Hours() / 24 / 365
}
