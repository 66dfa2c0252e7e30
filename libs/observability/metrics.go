package observability

import (
	"context"
	"time"
)

// DefaultMetrics is the process-wide Prometheus registry every Record*
// helper below except RecordOrchestrationTick feeds in addition to
// structured logging. A caller that wants
// an isolated registry (e.g. tests) can construct its own EngineMetrics and
// call the collectors directly instead of going through Record*.
var DefaultMetrics = NewEngineMetrics(NewRegistry())

// RecordSignalIssued logs one signal-engine evaluation as a structured
// metric event, including the confidence and any cooldown/tie diagnostic.
func RecordSignalIssued(ctx context.Context, kind, diagnostic string, confidence float64) {
	fields := map[string]any{
		"name":       "signal_issued",
		"kind":       kind,
		"confidence": confidence,
	}
	if diagnostic != "" {
		fields["diagnostic"] = diagnostic
	}
	LogEvent(ctx, "info", "metric", fields)
	if kind != "" && diagnostic == "" {
		DefaultMetrics.SignalsIssued.Inc("kind", kind)
	}
}

// RecordOrderPlaced logs the outcome of one order placement attempt.
func RecordOrderPlaced(ctx context.Context, instrumentKey string, qty int, status string, err error) {
	fields := map[string]any{
		"name":           "order_placed",
		"instrument_key": instrumentKey,
		"qty":            qty,
		"status":         status,
		"success":        err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "metric", fields)
	if err == nil {
		DefaultMetrics.OrderFills.Inc("status", status)
	}
}

// RecordRiskRejection logs an order rejected by the risk gate, tagged
// with the violation code so dashboards can bucket rejection reasons.
func RecordRiskRejection(ctx context.Context, code string) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name": "risk_rejection",
		"code": code,
	})
	DefaultMetrics.RiskRejections.Inc("code", code)
}

// RecordPositionClosed logs a completed trade's realised P&L and exit reason.
func RecordPositionClosed(ctx context.Context, instrumentKey string, exitReason string, realisedPnL float64, holdDuration time.Duration) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name":           "position_closed",
		"instrument_key": instrumentKey,
		"exit_reason":    exitReason,
		"realised_pnl":   realisedPnL,
		"hold_ms":        holdDuration.Milliseconds(),
	})
	DefaultMetrics.PositionCloses.Inc("exit_reason", exitReason)
	DefaultMetrics.PositionHoldTime.ObserveDuration(holdDuration)
}

// RecordFeedReconnect logs a feed reconnect attempt and the backoff delay applied.
func RecordFeedReconnect(ctx context.Context, attempt int, delay time.Duration) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name":       "feed_reconnect",
		"attempt":    attempt,
		"latency_ms": delay.Milliseconds(),
	})
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordOrchestrationTick logs one orchestrator sweep cycle's duration and
// whether every scheduled task completed without error.
func RecordOrchestrationTick(ctx context.Context, duration time.Duration, tasks int, err error) {
	fields := map[string]any{
		"name":       "orchestration_tick",
		"latency_ms": duration.Milliseconds(),
		"tasks":      tasks,
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "metric", fields)
}

// RecordTickProcessed increments the ticks-processed counter for one
// decoded and routed tick.
func RecordTickProcessed() {
	DefaultMetrics.TicksProcessed.Inc()
}

// RecordFrameDropped increments the malformed-frame counter.
func RecordFrameDropped() {
	DefaultMetrics.FramesDropped.Inc()
}

// RecordCandleFinalised increments the candles-finalised counter.
func RecordCandleFinalised() {
	DefaultMetrics.CandlesFinalised.Inc()
}

// RecordOpenPositions sets the open-positions gauge to n.
func RecordOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// RecordAccountEquity sets the account-equity gauge.
func RecordAccountEquity(equity float64) {
	DefaultMetrics.AccountEquity.Set(equity)
}
