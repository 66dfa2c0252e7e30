// Package risk provides versioned risk policy loading and enforcement for
// the intraday options trading engine. Policies are loaded
// from a JSON file and enforced at order time through an ordered gate:
// a signal is rejected on the first violated check, in a fixed priority
// order, so the operator always sees the single most material reason.
//
// A Violation carries a machine-readable Code so callers can log, alert, or
// route on specific breach types without string matching.
package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// ─── Policy ──────────────────────────────────────────────────────────────────

// TradingWindow bounds the part of the session the gate allows new entries,
// expressed as minutes-since-midnight IST.
type TradingWindow struct {
	// WarmupMinutes is how long after session open entries stay blocked,
	// giving indicators time to warm up.
	WarmupMinutes int `json:"warmup_minutes"`
	// SquareOffMinutes is how long before session close entries stop,
	// reserving the tail of the session for position exit only.
	SquareOffMinutes int `json:"square_off_minutes"`
}

// Sizing holds the default stop-loss/target distances and the per-trade
// risk budget used to derive order quantity.
type Sizing struct {
	// RiskPerTradePct is the fraction of current balance risked per trade (0–1).
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	// StopLossPct is the default stop distance below entry (0.30 = 30%).
	StopLossPct float64 `json:"stop_loss_pct"`
	// TargetPct is the default target distance above entry (0.60 = 60%).
	TargetPct float64 `json:"target_pct"`
	// MinQtyLots is the smallest order size (in lots) the gate will accept;
	// anything rounding below this is rejected as SIZE_TOO_SMALL.
	MinQtyLots int `json:"min_qty_lots"`
}

// Policy is the immutable, loaded risk policy. It is created once at
// startup and passed read-only through the system.
type Policy struct {
	DailyLossLimitPct      float64       `json:"daily_loss_limit_pct"`
	MaxConcurrentPositions int           `json:"max_concurrent_positions"`
	Window                 TradingWindow `json:"trading_window"`
	Sizing                 Sizing        `json:"sizing"`

	// LoadedFrom is the file path the policy was read from (empty for defaults).
	LoadedFrom string `json:"-"`
	// LoadedAt is the wall-clock time the policy was loaded.
	LoadedAt time.Time `json:"-"`
	// Version is a hash of the serialised JSON, used for audit trail.
	Version string `json:"-"`
}

// LoadPolicy reads a JSON file and returns a validated Policy.
// Returns DefaultPolicy if path is empty or the file does not exist, so the
// system can start without a config file in development.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("risk: read policy file %q: %w", path, err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("risk: parse policy file %q: %w", path, err)
	}

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("risk: invalid policy in %q: %w", path, err)
	}

	p.LoadedFrom = path
	p.LoadedAt = time.Now().UTC()
	p.Version = policyVersion(data)
	return &p, nil
}

// DefaultPolicy returns the conservative default risk posture.
func DefaultPolicy() *Policy {
	p := &Policy{
		DailyLossLimitPct:      0.03,
		MaxConcurrentPositions: 1,
		Window: TradingWindow{
			WarmupMinutes:    15,
			SquareOffMinutes: 10,
		},
		Sizing: Sizing{
			RiskPerTradePct: 0.01,
			StopLossPct:     0.30,
			TargetPct:       0.60,
			MinQtyLots:      1,
		},
		LoadedFrom: "",
		LoadedAt:   time.Now().UTC(),
	}
	b, _ := json.Marshal(p)
	p.Version = policyVersion(b)
	return p
}

func (p *Policy) validate() error {
	var errs []string

	if p.DailyLossLimitPct <= 0 || p.DailyLossLimitPct > 1 {
		errs = append(errs, fmt.Sprintf("daily_loss_limit_pct must be in (0,1], got %.4f", p.DailyLossLimitPct))
	}
	if p.MaxConcurrentPositions <= 0 {
		errs = append(errs, "max_concurrent_positions must be > 0")
	}
	if p.Sizing.RiskPerTradePct <= 0 || p.Sizing.RiskPerTradePct > 1 {
		errs = append(errs, fmt.Sprintf("sizing.risk_per_trade_pct must be in (0,1], got %.4f", p.Sizing.RiskPerTradePct))
	}
	if p.Sizing.StopLossPct <= 0 || p.Sizing.StopLossPct >= 1 {
		errs = append(errs, fmt.Sprintf("sizing.stop_loss_pct must be in (0,1), got %.4f", p.Sizing.StopLossPct))
	}
	if p.Sizing.MinQtyLots <= 0 {
		errs = append(errs, "sizing.min_qty_lots must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// policyVersion returns a short deterministic identifier for the policy JSON.
func policyVersion(data []byte) string {
	// Simple FNV-like hash for audit labelling — not a security hash.
	h := uint64(14695981039346656037)
	for _, b := range data {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return fmt.Sprintf("v%x", h&0xffffffffffff)
}

// ─── Violation ────────────────────────────────────────────────────────────────

// ViolationCode is a machine-readable identifier for a specific breach.
// Order here matches the gate's fixed evaluation priority.
type ViolationCode string

const (
	ViolationDailyLossLimit ViolationCode = "DAILY_LOSS_LIMIT"
	ViolationMaxConcurrent  ViolationCode = "MAX_CONCURRENT"
	ViolationOutOfWindow    ViolationCode = "OUT_OF_WINDOW"
	ViolationRiskExceeded   ViolationCode = "RISK_EXCEEDED"
	ViolationSizeTooSmall   ViolationCode = "SIZE_TOO_SMALL"
)

// Violation describes a single policy breach.
type Violation struct {
	Code    ViolationCode
	Message string
	// Limit and Observed are the policy bound and the value that breached it.
	Limit    float64
	Observed float64
}

func (v Violation) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (limit=%.4f, observed=%.4f)",
		v.Code, v.Message, v.Limit, v.Observed)
}

// ─── SignalInput / AccountState ──────────────────────────────────────────────

// SignalInput carries the proposed trade's entry/stop, used to derive size.
type SignalInput struct {
	EntryPrice float64
	StopLoss   float64
	LotSize    int
}

// AccountState carries the engine-wide values needed for the ordered gate.
type AccountState struct {
	CurrentBalance    float64
	DailyPnL          float64
	InitialCapital    float64
	OpenPositions     int
	Now               time.Time
	SessionOpen       time.Time
	SessionClose      time.Time
}

// Decision is the ordered gate's verdict: either an approved quantity or
// the single violation that blocked the trade.
type Decision struct {
	Approved bool
	Qty      int
	Violation *Violation
}

// ─── Enforcer ────────────────────────────────────────────────────────────────

// Enforcer applies a Policy to signals and account state. Construct one
// with NewEnforcer and reuse it across requests.
type Enforcer struct {
	policy *Policy
}

// NewEnforcer creates an Enforcer backed by the given Policy.
func NewEnforcer(policy *Policy) *Enforcer {
	return &Enforcer{policy: policy}
}

// Policy returns the enforcer's policy (read-only by convention, for logging/audit).
func (e *Enforcer) Policy() *Policy { return e.policy }

// Evaluate runs the gate's fixed-order checks and, if every check passes,
// returns an approved Decision with the lot-rounded order quantity. The
// first failing check short-circuits the rest.
func (e *Enforcer) Evaluate(sig SignalInput, acct AccountState) Decision {
	p := e.policy

	if p.DailyLossLimitPct > 0 && acct.InitialCapital > 0 {
		lossFrac := -acct.DailyPnL / acct.InitialCapital
		if lossFrac >= p.DailyLossLimitPct {
			return reject(ViolationDailyLossLimit, "daily loss limit reached", p.DailyLossLimitPct, lossFrac)
		}
	}

	if p.MaxConcurrentPositions > 0 && acct.OpenPositions >= p.MaxConcurrentPositions {
		return reject(ViolationMaxConcurrent, "max concurrent positions reached",
			float64(p.MaxConcurrentPositions), float64(acct.OpenPositions))
	}

	if !acct.SessionOpen.IsZero() && !acct.SessionClose.IsZero() {
		warmupEnd := acct.SessionOpen.Add(time.Duration(p.Window.WarmupMinutes) * time.Minute)
		squareOffStart := acct.SessionClose.Add(-time.Duration(p.Window.SquareOffMinutes) * time.Minute)
		if acct.Now.Before(warmupEnd) || !acct.Now.Before(squareOffStart) {
			return reject(ViolationOutOfWindow, "outside the configured entry window", 0, 0)
		}
	}

	if sig.EntryPrice <= 0 || sig.StopLoss <= 0 || sig.EntryPrice <= sig.StopLoss {
		return reject(ViolationRiskExceeded, "entry/stop-loss combination is invalid", 0, 0)
	}
	riskPerUnit := sig.EntryPrice - sig.StopLoss
	riskBudget := acct.CurrentBalance * p.Sizing.RiskPerTradePct

	lotSize := sig.LotSize
	if lotSize <= 0 {
		lotSize = 1
	}

	// The candidate's notional risk is checked before sizing: the
	// smallest tradable size is one lot, and if even that exceeds the
	// per-trade risk budget the trade is a budget breach, not a
	// rounding casualty.
	minRisk := riskPerUnit * float64(lotSize)
	if minRisk > riskBudget {
		return reject(ViolationRiskExceeded, "notional risk at one lot exceeds the per-trade risk budget",
			riskBudget, minRisk)
	}

	rawQty := math.Floor(riskBudget / riskPerUnit)
	lots := math.Floor(rawQty / float64(lotSize))
	qty := int(lots) * lotSize

	// Affordable, but rounds below the policy's configured minimum size.
	if lots < float64(p.Sizing.MinQtyLots) {
		return reject(ViolationSizeTooSmall, "risk budget rounds to fewer than the minimum lot count",
			float64(p.Sizing.MinQtyLots), lots)
	}

	return Decision{Approved: true, Qty: qty}
}

// DefaultStopLoss returns the policy's default stop price for entry.
func (e *Enforcer) DefaultStopLoss(entry float64) float64 {
	return entry * (1 - e.policy.Sizing.StopLossPct)
}

// DefaultTarget returns the policy's default target price for entry.
func (e *Enforcer) DefaultTarget(entry float64) float64 {
	return entry * (1 + e.policy.Sizing.TargetPct)
}

func reject(code ViolationCode, msg string, limit, observed float64) Decision {
	return Decision{Approved: false, Violation: &Violation{Code: code, Message: msg, Limit: limit, Observed: observed}}
}
