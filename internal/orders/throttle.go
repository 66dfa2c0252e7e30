package orders

import (
	"sync"
	"time"
)

// endpointBucket is a per-broker-endpoint token bucket. It throttles how
// fast we call the broker, one bucket per endpoint.
type endpointBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refillPerSec float64
	last     time.Time
}

// Throttle holds one bucket per broker endpoint (order placement, quote
// refresh, ...) so a burst on one never starves another.
type Throttle struct {
	mu       sync.Mutex
	buckets  map[string]*endpointBucket
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewThrottle creates a Throttle where each endpoint gets capacity tokens
// refilling at refillPerSec.
func NewThrottle(capacity, refillPerSec float64) *Throttle {
	return &Throttle{
		buckets:  map[string]*endpointBucket{},
		capacity: capacity,
		refill:   refillPerSec,
		now:      time.Now,
	}
}

// Allow reports whether endpoint has a token available, consuming one if so.
func (t *Throttle) Allow(endpoint string) bool {
	t.mu.Lock()
	b, ok := t.buckets[endpoint]
	if !ok {
		b = &endpointBucket{tokens: t.capacity, capacity: t.capacity, refillPerSec: t.refill, last: t.now()}
		t.buckets[endpoint] = b
	}
	t.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := t.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
