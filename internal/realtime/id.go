package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"chord/internal/identity/ids"
)

// newID returns a ULID, falling back to random hex if the entropy source
// fails. ULIDs are preferable for tracing and ordering in logs.
func newID(now time.Time) string {
	if id, err := ids.NewULID(now); err == nil {
		return id
	}
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
