package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func interceptLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := logger.Writer()
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(previous) })
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	raw := strings.TrimSpace(buf.String())
	if raw == "" {
		t.Fatal("no log output")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, raw)
	}
	return payload
}

func TestLogEventStampsRunInfoAndRedacts(t *testing.T) {
	buf := interceptLogger(t)

	ctx := WithRunInfo(context.Background(), RunInfo{
		RunID:  "run_1",
		Symbol: "NIFTY",
	})
	ctx = WithFlowID(ctx, "flow_7")

	LogEvent(ctx, "info", "order_submitted", map[string]any{
		"input": map[string]any{
			"bearer_token": "secret",
			"qty":          75,
		},
	})

	payload := decodeLine(t, buf)
	if payload["event"] != "order_submitted" || payload["level"] != "info" {
		t.Fatalf("envelope wrong: %#v", payload)
	}
	if payload["run_id"] != "run_1" || payload["flow_id"] != "flow_7" || payload["symbol"] != "NIFTY" {
		t.Fatalf("run info missing: %#v", payload)
	}

	input, ok := payload["input"].(map[string]any)
	if !ok {
		t.Fatalf("input not an object: %#v", payload["input"])
	}
	if input["bearer_token"] != redactedValue {
		t.Errorf("bearer_token leaked: %#v", input["bearer_token"])
	}
	if input["qty"] != float64(75) {
		t.Errorf("qty mangled: %#v", input["qty"])
	}
}

func TestWithFlowIDKeepsRunAndSymbol(t *testing.T) {
	ctx := WithRunInfo(context.Background(), RunInfo{RunID: "run_1", Symbol: "NIFTY"})
	ctx = WithFlowID(ctx, "flow_1")
	ctx = WithFlowID(ctx, "flow_2") // next decision chain on the same run

	info := RunInfoFromContext(ctx)
	if info.RunID != "run_1" || info.Symbol != "NIFTY" {
		t.Errorf("run/symbol lost across WithFlowID: %#v", info)
	}
	if info.FlowID != "flow_2" {
		t.Errorf("FlowID = %q, want flow_2", info.FlowID)
	}
}

func TestLogBrokerCallStartRedactsRequest(t *testing.T) {
	buf := interceptLogger(t)

	LogBrokerCallStart(context.Background(), "contract_master", map[string]any{
		"access_token": "secret",
		"url":          "https://assets.example.com/master.csv.gz",
	})

	payload := decodeLine(t, buf)
	if payload["endpoint"] != "contract_master" {
		t.Fatalf("endpoint = %#v", payload["endpoint"])
	}
	input := payload["input"].(map[string]any)
	if input["access_token"] != redactedValue {
		t.Errorf("access_token leaked: %#v", input["access_token"])
	}
	if input["url"] == redactedValue {
		t.Error("url over-redacted")
	}
}

func TestLogBrokerCallEndCarriesLatencyAndError(t *testing.T) {
	buf := interceptLogger(t)

	LogBrokerCallEnd(context.Background(), "submit_order", 42*time.Millisecond, errors.New("status 429"))

	payload := decodeLine(t, buf)
	if payload["success"] != false {
		t.Errorf("success = %#v, want false", payload["success"])
	}
	if payload["latency_ms"] != float64(42) {
		t.Errorf("latency_ms = %#v, want 42", payload["latency_ms"])
	}
	if payload["error"] != "status 429" {
		t.Errorf("error = %#v", payload["error"])
	}
}

func TestLogJournalWriteReportsOutcome(t *testing.T) {
	buf := interceptLogger(t)

	LogJournalWrite(context.Background(), "positions", nil)

	payload := decodeLine(t, buf)
	if payload["journal"] != "positions" || payload["success"] != true {
		t.Errorf("payload = %#v", payload)
	}
}
