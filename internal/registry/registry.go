// Package registry loads and indexes the Nifty 50 F&O contract master,
// refreshing it periodically with an atomic pointer swap so readers never
// observe a partially-built index.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"nifty-options-engine/internal/domain"
)

// RefreshMaxAge is the default staleness threshold that triggers a reload.
const RefreshMaxAge = 24 * time.Hour

type expiryKey struct {
	Symbol string
	Expiry time.Time
}

// strikePair groups the CE/PE instruments at one strike.
type strikePair struct {
	Strike float64
	CE     *domain.Instrument
	PE     *domain.Instrument
}

type snapshot struct {
	byKey                  map[domain.InstrumentKey]domain.Instrument
	optionsBySymbolExpiry  map[expiryKey][]strikePair
	loadedAt               time.Time
}

// Registry is a read-mostly, atomically-swapped instrument index.
type Registry struct {
	current atomic.Pointer[snapshot]
	source  Source
	strikeStep float64
}

// Source fetches the raw contract master (already parsed into instruments).
// Implementations handle the HTTP fetch, gzip, and CSV parsing; Registry
// only owns indexing and atomic swap.
type Source interface {
	Load(ctx context.Context) ([]domain.Instrument, error)
}

// New creates a Registry with the given strike step (used for ATM rounding)
// and an initially empty snapshot — call Refresh before first use.
func New(source Source, strikeStep float64) *Registry {
	if strikeStep <= 0 {
		strikeStep = 50
	}
	r := &Registry{source: source, strikeStep: strikeStep}
	r.current.Store(&snapshot{
		byKey:                 map[domain.InstrumentKey]domain.Instrument{},
		optionsBySymbolExpiry: map[expiryKey][]strikePair{},
	})
	return r
}

// Refresh reloads the contract master and atomically swaps it in. On
// failure the previous registry is kept and the error is returned as a
// warning-level condition — callers should log and continue, never crash.
func (r *Registry) Refresh(ctx context.Context) error {
	instruments, err := r.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("registry: refresh failed, keeping previous snapshot: %w", err)
	}

	next := &snapshot{
		byKey:                 make(map[domain.InstrumentKey]domain.Instrument, len(instruments)),
		optionsBySymbolExpiry: map[expiryKey][]strikePair{},
		loadedAt:              time.Now().UTC(),
	}

	grouped := map[expiryKey]map[float64]*strikePair{}
	for _, inst := range instruments {
		next.byKey[inst.Key] = inst
		if inst.Segment != domain.SegmentOption {
			continue
		}
		ek := expiryKey{Symbol: inst.Symbol, Expiry: inst.Expiry}
		if grouped[ek] == nil {
			grouped[ek] = map[float64]*strikePair{}
		}
		pair, ok := grouped[ek][inst.Strike]
		if !ok {
			pair = &strikePair{Strike: inst.Strike}
			grouped[ek][inst.Strike] = pair
		}
		instCopy := inst
		if inst.OptionType == domain.CE {
			pair.CE = &instCopy
		} else {
			pair.PE = &instCopy
		}
	}

	for ek, byStrike := range grouped {
		pairs := make([]strikePair, 0, len(byStrike))
		for _, p := range byStrike {
			pairs = append(pairs, *p)
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Strike < pairs[j].Strike })
		next.optionsBySymbolExpiry[ek] = pairs
	}

	r.current.Store(next)
	return nil
}

// NeedsRefresh reports whether the snapshot is older than maxAge.
func (r *Registry) NeedsRefresh(maxAge time.Duration) bool {
	snap := r.current.Load()
	if snap.loadedAt.IsZero() {
		return true
	}
	return time.Since(snap.loadedAt) > maxAge
}

// Lookup resolves an instrument by key.
func (r *Registry) Lookup(key domain.InstrumentKey) (domain.Instrument, bool) {
	snap := r.current.Load()
	inst, ok := snap.byKey[key]
	return inst, ok
}

// NearestExpiry returns the soonest expiry at or after now for symbol.
func (r *Registry) NearestExpiry(symbol string, now time.Time) (time.Time, bool) {
	snap := r.current.Load()
	var best time.Time
	found := false
	for ek := range snap.optionsBySymbolExpiry {
		if ek.Symbol != symbol {
			continue
		}
		if ek.Expiry.Before(now) {
			continue
		}
		if !found || ek.Expiry.Before(best) {
			best = ek.Expiry
			found = true
		}
	}
	return best, found
}

// ATMStrike rounds spot to the nearest strikeStep.
func (r *Registry) ATMStrike(spot float64) float64 {
	step := r.strikeStep
	return round(spot/step) * step
}

func round(x float64) float64 {
	if x >= 0 {
		return float64(int64(x + 0.5))
	}
	return float64(int64(x - 0.5))
}

// PCRWindow enumerates every CE/PE instrument key within [atm-rng, atm+rng]
// for symbol/expiry, deterministically strike-sorted.
func (r *Registry) PCRWindow(symbol string, expiry time.Time, atm, rng float64) []domain.InstrumentKey {
	snap := r.current.Load()
	pairs := snap.optionsBySymbolExpiry[expiryKey{Symbol: symbol, Expiry: expiry}]

	lo, hi := atm-rng, atm+rng
	keys := make([]domain.InstrumentKey, 0, len(pairs)*2)
	for _, p := range pairs {
		if p.Strike < lo || p.Strike > hi {
			continue
		}
		if p.CE != nil {
			keys = append(keys, p.CE.Key)
		}
		if p.PE != nil {
			keys = append(keys, p.PE.Key)
		}
	}
	return keys
}

// ATMPair returns the CE and PE instrument at the ATM strike for
// symbol/expiry, if both legs are present.
func (r *Registry) ATMPair(symbol string, expiry time.Time, atm float64) (ce, pe domain.Instrument, ok bool) {
	snap := r.current.Load()
	for _, p := range snap.optionsBySymbolExpiry[expiryKey{Symbol: symbol, Expiry: expiry}] {
		if p.Strike == atm && p.CE != nil && p.PE != nil {
			return *p.CE, *p.PE, true
		}
	}
	return domain.Instrument{}, domain.Instrument{}, false
}
