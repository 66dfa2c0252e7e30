// Package orders places option orders through a pluggable Backend (paper
// or live broker), deduplicating retries via an idempotency cache and
// throttling outbound calls per broker endpoint.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nifty-options-engine/internal/domain"
)

// IdempotencyTTL is how long a duplicate request with the same key
// returns the original Ack instead of placing a new order.
const IdempotencyTTL = 60 * time.Second

// ErrThrottled is returned by a Backend that rejects a placement because
// its outbound rate limit to the broker endpoint is currently exhausted.
var ErrThrottled = errors.New("orders: broker endpoint throttled")

// Status is the terminal state of an order placement.
type Status string

const (
	StatusFilled  Status = "FILLED"
	StatusPartial Status = "PARTIAL"
	StatusUnknown Status = "UNKNOWN"
	StatusRejected Status = "REJECTED"
)

// Request is one order placement attempt.
type Request struct {
	IdempotencyKey string
	InstrumentKey  domain.InstrumentKey
	Qty            int
	LimitPrice     float64 // reference price; paper fills at this * (1+slippage)
}

// Ack is the result of an order placement.
type Ack struct {
	OrderID     string
	Status      Status
	FilledQty   int
	FilledPrice float64
	Timestamp   time.Time
}

// Backend places one order and returns its terminal Ack.
type Backend interface {
	Place(ctx context.Context, req Request) (Ack, error)
}

type cachedAck struct {
	ack Ack
	at  time.Time
}

// Manager deduplicates retries against a Backend using an idempotency
// cache, independent of which backend (paper or live) is wired in.
type Manager struct {
	backend Backend
	mu      sync.Mutex
	cache   map[string]cachedAck
	now     func() time.Time
}

// NewManager wraps backend with idempotency-key deduplication.
func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend, cache: map[string]cachedAck{}, now: time.Now}
}

// SetBackend swaps the backend a Manager places orders through, e.g. for
// an operator-triggered PAPER/LIVE mode switch. Idempotency cache state is
// preserved across the swap.
func (m *Manager) SetBackend(backend Backend) {
	m.mu.Lock()
	m.backend = backend
	m.mu.Unlock()
}

// Place returns a previously-cached Ack if req.IdempotencyKey was seen
// within IdempotencyTTL, otherwise delegates to the backend and caches
// the result.
func (m *Manager) Place(ctx context.Context, req Request) (Ack, error) {
	if req.IdempotencyKey == "" {
		return Ack{}, fmt.Errorf("orders: idempotency key is required")
	}

	m.mu.Lock()
	if c, ok := m.cache[req.IdempotencyKey]; ok && m.now().Sub(c.at) < IdempotencyTTL {
		m.mu.Unlock()
		return c.ack, nil
	}
	backend := m.backend
	m.mu.Unlock()

	ack, err := backend.Place(ctx, req)
	if err != nil {
		return Ack{}, err
	}

	m.mu.Lock()
	m.cache[req.IdempotencyKey] = cachedAck{ack: ack, at: m.now()}
	m.evictLocked()
	m.mu.Unlock()

	return ack, nil
}

func (m *Manager) evictLocked() {
	now := m.now()
	for k, c := range m.cache {
		if now.Sub(c.at) >= IdempotencyTTL {
			delete(m.cache, k)
		}
	}
}
