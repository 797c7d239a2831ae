package types

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	UUID_PREFIX_EVENT = "evt"
	UUID_PREFIX_BATCH = "batch"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateUUID returns a new lower-case ULID. ULIDs generated within the same
// millisecond are strictly increasing.
func GenerateUUID() string {
	return GenerateUUIDAt(time.Now())
}

// GenerateUUIDAt returns a ULID whose time component is t.
func GenerateUUIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// GenerateUUIDWithPrefix returns a ULID prefixed with the given entity prefix,
// e.g. evt_01hx...
func GenerateUUIDWithPrefix(prefix string) string {
	return GenerateUUIDWithPrefixAt(prefix, time.Now())
}

func GenerateUUIDWithPrefixAt(prefix string, t time.Time) string {
	if prefix == "" {
		return GenerateUUIDAt(t)
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUIDAt(t))
}
