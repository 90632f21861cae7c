// Package ids generates the correlation identities assigned to routed
// messages. Identities are ULIDs: unique for the lifetime of the process and
// time-sortable, which keeps pending-record sweeps roughly in arrival order.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewIdentity returns a fresh correlation identity encoded as a 26-character
// ULID string. Safe for concurrent use; no two calls return the same value.
func NewIdentity() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
