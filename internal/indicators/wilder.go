package indicators

import "math"

// RSI computes a Wilder-smoothed relative strength index over period
// candle closes. Reports NaN until period price changes (period+1
// closes) have been observed, per the engine's fail-closed convention at filter boundaries.
type RSI struct {
	period     int
	prevClose  float64
	hasPrev    bool
	avgGain    float64
	avgLoss    float64
	count      int
}

// NewRSI creates an RSI over period candle closes (standard 14-period setting).
func NewRSI(period int) *RSI { return &RSI{period: period} }

// Update folds the next candle close in and returns the current RSI, or
// NaN if the smoothing window has not yet filled.
func (r *RSI) Update(close float64) float64 {
	if !r.hasPrev {
		r.prevClose = close
		r.hasPrev = true
		return math.NaN()
	}

	delta := close - r.prevClose
	r.prevClose = close
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	r.count++
	if r.count <= r.period {
		// accumulate a simple average for the initial seed, Wilder-style
		r.avgGain += gain / float64(r.period)
		r.avgLoss += loss / float64(r.period)
		if r.count < r.period {
			return math.NaN()
		}
		return r.value()
	}

	r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
	r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	return r.value()
}

func (r *RSI) value() float64 {
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes a Wilder-smoothed average true range over period candles.
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	avg       float64
	count     int
}

// NewATR creates an ATR over period candles (standard 14-period setting).
func NewATR(period int) *ATR { return &ATR{period: period} }

// Update folds the next candle's high/low/close in and returns the
// current ATR, or NaN until the window has filled.
func (a *ATR) Update(high, low, close float64) float64 {
	tr := high - low
	if a.hasPrev {
		tr = math.Max(tr, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	}
	a.prevClose = close
	a.hasPrev = true

	a.count++
	if a.count <= a.period {
		a.avg += tr / float64(a.period)
		if a.count < a.period {
			return math.NaN()
		}
		return a.avg
	}

	a.avg = (a.avg*float64(a.period-1) + tr) / float64(a.period)
	return a.avg
}

// Value returns the last computed ATR without updating it.
func (a *ATR) Value() float64 {
	if a.count < a.period {
		return math.NaN()
	}
	return a.avg
}
