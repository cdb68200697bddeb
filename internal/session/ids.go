package session

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/mr-tron/base58"
)

// NewSessionID returns an opaque session id: creation epoch millis plus a
// base58 random suffix. Sessions live 30 seconds and are created at human
// pace, so this is collision-resistant enough without a full UUID, and the
// leading timestamp keeps ids sortable in store dumps.
func NewSessionID(now time.Time) string {
	suffix := make([]byte, 6)
	_, _ = rand.Read(suffix)
	return strconv.FormatInt(now.UnixMilli(), 10) + base58.Encode(suffix)
}
