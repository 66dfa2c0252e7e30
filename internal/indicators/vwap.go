package indicators

import "math"

// VWAP accumulates a session-scoped volume-weighted average price,
// reset at the start of each trading session.
type VWAP struct {
	cumPV  float64
	cumVol int64
}

// NewVWAP creates an empty session VWAP tracker.
func NewVWAP() *VWAP { return &VWAP{} }

// Reset clears accumulated volume at session boundary.
func (v *VWAP) Reset() { v.cumPV, v.cumVol = 0, 0 }

// Update folds in a traded price/volume pair and returns the current VWAP,
// or NaN if no volume has traded yet this session.
func (v *VWAP) Update(price float64, volume int64) float64 {
	v.cumPV += price * float64(volume)
	v.cumVol += volume
	return v.Value()
}

// Value returns the current VWAP without updating it.
func (v *VWAP) Value() float64 {
	if v.cumVol == 0 {
		return math.NaN()
	}
	return v.cumPV / float64(v.cumVol)
}

// VolumeAverage is a rolling simple average of the last n candle volumes.
type VolumeAverage struct {
	window []int64
	size   int
	sum    int64
}

// NewVolumeAverage creates a rolling average over the last size samples (standard 20-sample window).
func NewVolumeAverage(size int) *VolumeAverage { return &VolumeAverage{size: size} }

// Update folds in the next candle's volume and returns the current average,
// or NaN until size samples have been observed.
func (va *VolumeAverage) Update(volume int64) float64 {
	va.window = append(va.window, volume)
	va.sum += volume
	if len(va.window) > va.size {
		va.sum -= va.window[0]
		va.window = va.window[1:]
	}
	if len(va.window) < va.size {
		return math.NaN()
	}
	return float64(va.sum) / float64(va.size)
}
