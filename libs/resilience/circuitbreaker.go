// Package resilience wraps sony/gobreaker for the engine's outbound
// calls; the contract-master refresh is the call that goes through it. A
// tripped breaker turns a flaky remote host into a fast local error, so
// the caller degrades (keeps the previous registry) instead of stalling
// its goroutine on a dead endpoint.
package resilience

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config tunes one breaker. Zero values are not usable; start from
// DefaultConfig.
type Config struct {
	// Name tags log lines and errors with the protected endpoint.
	Name string
	// ProbeRequests is how many calls are let through half-open.
	ProbeRequests uint32
	// CountWindow is the rolling interval over which failures are counted
	// while closed.
	CountWindow time.Duration
	// OpenFor is how long the breaker stays open before probing again.
	OpenFor time.Duration
	// TripAfter is the consecutive-failure count that opens the breaker.
	TripAfter uint32
	// OnStateChange, when set, observes every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig suits the engine's periodic HTTP surfaces: a master
// refresh retried every few minutes, or an order placement that must
// fail fast. Trips after 5 consecutive failures (or a 60% failure
// ratio), probes again after 30s.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		ProbeRequests: 3,
		CountWindow:   10 * time.Second,
		OpenFor:       30 * time.Second,
		TripAfter:     5,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[breaker:%s] %s -> %s", name, from, to)
		},
	}
}

// CircuitBreaker guards one named remote endpoint.
type CircuitBreaker struct {
	inner *gobreaker.CircuitBreaker[any]
	name  string
}

func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.ProbeRequests,
		Interval:    cfg.CountWindow,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= cfg.TripAfter || ratio >= 0.6
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &CircuitBreaker{
		inner: gobreaker.NewCircuitBreaker[any](settings),
		name:  cfg.Name,
	}
}

// Execute runs fn under the breaker. A rejection while open comes back
// as a wrapped gobreaker.ErrOpenState.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	out, err := cb.inner.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker %s: %w", cb.name, err)
	}
	return out, nil
}

// ExecuteWithContext is Execute with an upfront context check, so a
// cancelled refresh or shutdown never counts as an endpoint failure.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cb.Execute(fn)
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() gobreaker.State { return cb.inner.State() }

// Counts reports the rolling request/failure counts.
func (cb *CircuitBreaker) Counts() gobreaker.Counts { return cb.inner.Counts() }

// Name returns the protected endpoint's tag.
func (cb *CircuitBreaker) Name() string { return cb.name }
