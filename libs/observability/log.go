package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.FlowID != "" {
		payload["flow_id"] = info.FlowID
	}
	if info.RunID != "" {
		payload["run_id"] = info.RunID
	}
	if info.Symbol != "" {
		payload["symbol"] = info.Symbol
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

// LogBrokerCallStart logs the outgoing request to an external broker
// endpoint (order placement, contract master refresh, quote lookup). The
// request body is redacted the same way LogEvent redacts "input"/"payload".
func LogBrokerCallStart(ctx context.Context, endpoint string, request any) {
	LogEvent(ctx, "info", "broker_call_start", map[string]any{
		"endpoint": endpoint,
		"input":    request,
	})
}

// LogBrokerCallEnd logs the outcome of a broker call started with
// LogBrokerCallStart, including its latency and success.
func LogBrokerCallEnd(ctx context.Context, endpoint string, duration time.Duration, err error) {
	fields := map[string]any{
		"endpoint":   endpoint,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "broker_call_end", fields)
}

// LogJournalWrite logs a write to a durable journal (the position journal
// or trade log), so a corrupt or delayed write shows up in the same
// structured stream as every other engine event.
func LogJournalWrite(ctx context.Context, journal string, err error) {
	fields := map[string]any{
		"journal": journal,
		"success": err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "journal_write", fields)
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "input", "payload":
			out[key] = RedactValue(value)
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
