package testing

import (
	"encoding/json"
	"testing"
)

// failRecorder stands in for testing.TB so assertion failures can be
// observed instead of failing the enclosing test.
type failRecorder struct {
	testing.TB
	failed bool
}

func (r *failRecorder) Errorf(string, ...any) { r.failed = true }
func (r *failRecorder) Fatalf(string, ...any) { r.failed = true; panic("fatalf") }
func (r *failRecorder) Helper()               {}

func TestAssertDeterministicPasses(t *testing.T) {
	AssertDeterministic(t, func() any {
		return map[string]float64{"rsi": 58.2, "ema5": 102}
	})
}

func TestAssertDeterministicCatchesDrift(t *testing.T) {
	calls := 0
	rec := &failRecorder{TB: t}
	AssertDeterministic(rec, func() any {
		calls++
		return map[string]int{"sample": calls}
	})
	if !rec.failed {
		t.Error("drifting output was not flagged")
	}
}

func TestAssertDeepEqual(t *testing.T) {
	AssertDeepEqual(t, []string{"BUY_CE", "HOLD"}, []string{"BUY_CE", "HOLD"})

	rec := &failRecorder{TB: t}
	AssertDeepEqual(rec, []string{"BUY_CE"}, []string{"BUY_PE"})
	if !rec.failed {
		t.Error("unequal slices were not flagged")
	}
}

func TestMustMarshalRoundTrips(t *testing.T) {
	b := MustMarshal(t, map[string]any{"kind": "BUY_PE", "confidence": 87.5})

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["kind"] != "BUY_PE" {
		t.Errorf("kind = %v, want BUY_PE", decoded["kind"])
	}
}

func TestLoadFixtureResolvesRelativeToPackage(t *testing.T) {
	raw := LoadFixture(t, "live_feed_full.json")
	if len(raw) == 0 {
		t.Fatal("fixture is empty")
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("fixture is not valid JSON: %v", err)
	}
}
