package indicators

import "math"

// Supertrend tracks the ATR-banded trend-following overlay (period 10,
// multiplier 3), flipping direction when price closes
// through the opposite band.
type Supertrend struct {
	period     int
	multiplier float64
	atr        *ATR
	finalUpper float64
	finalLower float64
	prevClose  float64
	bullish    bool
	ready      bool
}

// NewSupertrend creates a Supertrend(period, multiplier) tracker.
func NewSupertrend(period int, multiplier float64) *Supertrend {
	return &Supertrend{period: period, multiplier: multiplier, atr: NewATR(period)}
}

// Update folds in the next finalised candle and returns the current
// Supertrend value and whether the trend is bullish. Returns NaN/false
// until the underlying ATR has warmed up.
func (s *Supertrend) Update(high, low, close float64) (value float64, bullish bool) {
	atr := s.atr.Update(high, low, close)
	if math.IsNaN(atr) {
		return math.NaN(), false
	}

	mid := (high + low) / 2
	basicUpper := mid + s.multiplier*atr
	basicLower := mid - s.multiplier*atr

	if !s.ready {
		s.finalUpper, s.finalLower = basicUpper, basicLower
		s.bullish = close >= s.finalLower
		s.ready = true
		s.prevClose = close
		return s.currentValue(), s.bullish
	}

	if basicUpper < s.finalUpper || s.prevClose > s.finalUpper {
		s.finalUpper = basicUpper
	}
	if basicLower > s.finalLower || s.prevClose < s.finalLower {
		s.finalLower = basicLower
	}
	s.prevClose = close

	switch {
	case close > s.finalUpper:
		s.bullish = true
	case close < s.finalLower:
		s.bullish = false
	}

	return s.currentValue(), s.bullish
}

func (s *Supertrend) currentValue() float64 {
	if s.bullish {
		return s.finalLower
	}
	return s.finalUpper
}

// Ready reports whether the tracker has enough data to produce a value.
func (s *Supertrend) Ready() bool { return s.ready }
