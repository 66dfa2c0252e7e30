package observability

import (
	"encoding/json"
	"strings"
)

const redactedValue = "[REDACTED]"

// Keys whose values never reach a log line. Exact matches cover the
// payload envelopes the engine logs around broker calls; the substring
// list catches credential material under any spelling (the broker
// bearer token, the Postgres DSN, API secrets).
var redactExactKeys = map[string]struct{}{
	"order_payload": {},
	"order_request": {},
	"raw_order":     {},
	"account_id":    {},
	"dsn":           {},
}

var redactSubstrings = []string{
	"password", "secret", "token", "credential", "bearer",
	"api_key", "apikey", "access_key",
}

// RedactValue walks value and replaces anything under a sensitive key
// with a placeholder. Structs are passed through a JSON round-trip so
// their tagged field names get the same treatment as map keys.
func RedactValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, v := range typed {
			if sensitiveKey(key) {
				out[key] = redactedValue
			} else {
				out[key] = RedactValue(v)
			}
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = RedactValue(v)
		}
		return out
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return typed
	default:
		if decoded, ok := viaJSON(value); ok {
			return RedactValue(decoded)
		}
		return value
	}
}

func viaJSON(value any) (any, bool) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	if _, ok := redactExactKeys[k]; ok {
		return true
	}
	for _, sub := range redactSubstrings {
		if strings.Contains(k, sub) {
			return true
		}
	}
	return false
}
