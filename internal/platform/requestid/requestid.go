// Package requestid generates correlation ids for outbound tracking
// calls.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a random 32-char hex id. When the randomness source
// fails it falls back to a prefix-timestamp id so callers always get
// a usable value.
func New(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
