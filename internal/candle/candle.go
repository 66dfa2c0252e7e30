// Package candle buckets ticks into fixed-interval OHLCV candles per
// instrument, maintaining one in-progress candle plus a bounded ring of
// finalised ones.
package candle

import (
	"sync"
	"time"

	"nifty-options-engine/internal/domain"
	"nifty-options-engine/libs/observability"
)

// DefaultRingSize is the number of finalised candles retained per instrument.
const DefaultRingSize = 300

type incomplete struct {
	start, end time.Time
	open, high, low, close float64
	volume                 int64
	hasTick                bool
}

type series struct {
	mu       sync.Mutex
	interval time.Duration
	inc      *incomplete
	ring     []domain.Candle // ring[0] is oldest
	cap      int
}

func newSeries(interval time.Duration, capacity int) *series {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &series{interval: interval, cap: capacity}
}

func (s *series) push(c domain.Candle) {
	s.ring = append(s.ring, c)
	if len(s.ring) > s.cap {
		s.ring = s.ring[len(s.ring)-s.cap:]
	}
}

func bucketStart(ts time.Time, interval time.Duration) time.Time {
	return ts.Truncate(interval)
}

// Manager tracks one series per instrument+interval combination.
type Manager struct {
	mu       sync.RWMutex
	interval time.Duration
	ringCap  int
	series   map[domain.InstrumentKey]*series
}

// New creates a Manager bucketing ticks into interval-wide candles.
func New(interval time.Duration, ringCap int) *Manager {
	return &Manager{interval: interval, ringCap: ringCap, series: map[domain.InstrumentKey]*series{}}
}

func (m *Manager) seriesFor(key domain.InstrumentKey) *series {
	m.mu.RLock()
	s, ok := m.series[key]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.series[key]; ok {
		return s
	}
	s = newSeries(m.interval, m.ringCap)
	m.series[key] = s
	return s
}

// OnTick folds t into the instrument's current bucket, finalising and
// backfilling any skipped buckets as it advances.
func (m *Manager) OnTick(t domain.Tick) {
	s := m.seriesFor(t.Instrument)
	s.mu.Lock()
	defer s.mu.Unlock()

	start := bucketStart(t.TS, s.interval)

	if s.inc == nil {
		s.inc = &incomplete{start: start, end: start.Add(s.interval), open: t.LTP, high: t.LTP, low: t.LTP, close: t.LTP, volume: t.LTQ, hasTick: true}
		return
	}

	if t.TS.Before(s.inc.start) {
		return // stale tick, ignore
	}

	if start.Equal(s.inc.start) {
		s.foldTick(t)
		return
	}

	// Tick belongs to a later bucket: finalise current, backfill gaps, start fresh.
	s.finaliseAndAdvance(start)
	s.foldTick(t)
}

func (s *series) foldTick(t domain.Tick) {
	if !s.inc.hasTick {
		// First tick of a bucket the sweep opened: seed OHLC from it.
		s.inc.open, s.inc.high, s.inc.low, s.inc.close = t.LTP, t.LTP, t.LTP, t.LTP
	}
	if t.LTP > s.inc.high {
		s.inc.high = t.LTP
	}
	if t.LTP < s.inc.low {
		s.inc.low = t.LTP
	}
	s.inc.close = t.LTP
	s.inc.volume += t.LTQ
	s.inc.hasTick = true
}

// finaliseAndAdvance closes s.inc, appends empty backfill candles for any
// buckets strictly between the closed one and newStart, and opens a new
// incomplete candle at newStart (caller fills OHLC).
func (s *series) finaliseAndAdvance(newStart time.Time) {
	closed := domain.Candle{Start: s.inc.start, End: s.inc.end, Open: s.inc.open, High: s.inc.high, Low: s.inc.low, Close: s.inc.close, Volume: s.inc.volume}
	if !s.inc.hasTick {
		closed.Open, closed.High, closed.Low, closed.Close = lastClose(s.ring), lastClose(s.ring), lastClose(s.ring), lastClose(s.ring)
	}
	s.push(closed)
	observability.RecordCandleFinalised()

	prevClose := closed.Close
	for cursor := s.inc.end; cursor.Before(newStart); cursor = cursor.Add(s.interval) {
		s.push(domain.Candle{Start: cursor, End: cursor.Add(s.interval), Open: prevClose, High: prevClose, Low: prevClose, Close: prevClose, Volume: 0})
	}

	s.inc = &incomplete{start: newStart, end: newStart.Add(s.interval)}
}

func lastClose(ring []domain.Candle) float64 {
	if len(ring) == 0 {
		return 0
	}
	return ring[len(ring)-1].Close
}

// Sweep finalises any instrument's incomplete candle whose bucket has ended
// by now, even without a new tick arriving, so downstream indicators are not
// stalled waiting for the next trade.
func (m *Manager) Sweep(now time.Time) {
	m.mu.RLock()
	all := make([]*series, 0, len(m.series))
	for _, s := range m.series {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.mu.Lock()
		if s.inc != nil && !now.Before(s.inc.end) {
			newStart := bucketStart(now, s.interval)
			s.finaliseAndAdvance(newStart)
		}
		s.mu.Unlock()
	}
}

// Finalised returns a snapshot copy of the finalised candle ring, oldest first.
func (m *Manager) Finalised(key domain.InstrumentKey) []domain.Candle {
	s := m.seriesFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Candle, len(s.ring))
	copy(out, s.ring)
	return out
}

// Incomplete returns the in-progress candle for key, if any.
func (m *Manager) Incomplete(key domain.InstrumentKey) (domain.Candle, bool) {
	s := m.seriesFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inc == nil {
		return domain.Candle{}, false
	}
	return domain.Candle{Start: s.inc.start, End: s.inc.end, Open: s.inc.open, High: s.inc.high, Low: s.inc.low, Close: s.inc.close, Volume: s.inc.volume}, true
}
