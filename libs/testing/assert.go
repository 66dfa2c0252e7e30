package testing

import (
	"encoding/json"
	"reflect"
	"testing"
)

// AssertDeterministic invokes fn twice and fails the test if the two
// results marshal to different JSON. Used on reasoning construction and
// Greeks snapshots, where map iteration order or hidden time reads would
// otherwise slip into the output unnoticed.
func AssertDeterministic(t testing.TB, fn func() any) {
	t.Helper()
	first, err := json.Marshal(fn())
	if err != nil {
		t.Fatalf("AssertDeterministic: marshal first run: %v", err)
	}
	second, err := json.Marshal(fn())
	if err != nil {
		t.Fatalf("AssertDeterministic: marshal second run: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("results differ between runs\nfirst:  %s\nsecond: %s", first, second)
	}
}

// AssertDeepEqual fails with an indented-JSON diff when want and got
// are not reflect.DeepEqual.
func AssertDeepEqual(t testing.TB, want, got any) {
	t.Helper()
	if reflect.DeepEqual(want, got) {
		return
	}
	wantJSON, _ := json.MarshalIndent(want, "", "  ")
	gotJSON, _ := json.MarshalIndent(got, "", "  ")
	t.Errorf("values differ\nwant: %s\n got: %s", wantJSON, gotJSON)
}

// MustMarshal marshals v or fatals. Doubles as a check that a value is
// JSON-serialisable for snapshot fan-out.
func MustMarshal(t testing.TB, v any) []byte {
	t.Helper()
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("MustMarshal: %v", err)
	}
	return b
}
