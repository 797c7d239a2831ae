package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LockScope represents the scope of an advisory lock
type LockScope string

const (
	// LockScopeEventIdentity serializes conflict resolution for one event identity
	LockScopeEventIdentity LockScope = "event_identity"
)

// DefaultLockTimeout is used when a LockRequest carries no timeout.
const DefaultLockTimeout = 30 * time.Second

// LockRequest describes an advisory lock to acquire inside a transaction.
// A nil Timeout means DefaultLockTimeout; zero or negative means fail fast.
type LockRequest struct {
	Key     string
	Timeout *time.Duration
}

func (r LockRequest) GetTimeout() time.Duration {
	if r.Timeout == nil {
		return DefaultLockTimeout
	}
	return *r.Timeout
}

// GenerateLockKey generates a lock key from a scope and parameters.
// Params are sorted so the same params always produce the same key.
// The key is a deterministic string that Postgres will hash internally.
func GenerateLockKey(scope LockScope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build string in format: scope:key1=value1:key2=value2:...
	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	return b.String()
}

// TableName represents a database table name
type TableName string

const (
	TableNameEvents TableName = "events"
)

// EventStoreType selects the backing store for the usage ledger
type EventStoreType string

const (
	EventStoreTypePostgres   EventStoreType = "postgres"
	EventStoreTypeClickHouse EventStoreType = "clickhouse"
)

// PubSubType selects the transport for published usage events
type PubSubType string

const (
	PubSubTypeKafka  PubSubType = "kafka"
	PubSubTypeMemory PubSubType = "memory"
)
