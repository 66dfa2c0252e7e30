package observability

import "context"

// RunInfo carries the identifiers stamped on every log line. RunID is
// fixed for the process lifetime; FlowID is minted per trade-decision
// chain (signal -> risk gate -> order -> position) so one grep pulls the
// whole chain; Symbol names the traded underlying.
type RunInfo struct {
	RunID  string
	FlowID string
	Symbol string
}

type runInfoKey struct{}

// WithRunInfo overlays the non-empty fields of info onto whatever the
// context already carries.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	merged := RunInfoFromContext(ctx)
	if info.RunID != "" {
		merged.RunID = info.RunID
	}
	if info.FlowID != "" {
		merged.FlowID = info.FlowID
	}
	if info.Symbol != "" {
		merged.Symbol = info.Symbol
	}
	return context.WithValue(ctx, runInfoKey{}, merged)
}

// RunInfoFromContext returns the context's identifiers, zero-valued
// when none were attached.
func RunInfoFromContext(ctx context.Context) RunInfo {
	if info, ok := ctx.Value(runInfoKey{}).(RunInfo); ok {
		return info
	}
	return RunInfo{}
}

// WithFlowID starts a new trade-decision chain on the context, keeping
// the run and symbol already attached.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	if flowID == "" {
		return ctx
	}
	return WithRunInfo(ctx, RunInfo{FlowID: flowID})
}

// FlowIDFromContext returns the active chain's id, or "".
func FlowIDFromContext(ctx context.Context) string {
	return RunInfoFromContext(ctx).FlowID
}
