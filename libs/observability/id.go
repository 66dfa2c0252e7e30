package observability

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRunID mints the process-lifetime identifier attached to every log
// line of one engine run.
func NewRunID() string { return mintID("run") }

// NewFlowID mints an identifier for one trade-decision chain: the
// signal, its risk-gate verdict, the order, and the resulting position
// all log under the same flow id.
func NewFlowID() string { return mintID("flow") }

func mintID(prefix string) string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// Timestamp alone still separates runs; collisions within one
		// process need two ids minted in the same nanosecond.
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), hex.EncodeToString(suffix))
}
