package events

import (
	"fmt"
	"time"

	"github.com/flexprice/usageledger/internal/types"
)

// TimestampPrecision is the precision at which timestamps and record dates are
// compared. It matches what the stores can round-trip.
const TimestampPrecision = time.Microsecond

// NormalizeTimestamp truncates t to TimestampPrecision and converts it to UTC.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.Truncate(TimestampPrecision).UTC()
}

// NormalizeRecordDate is NormalizeTimestamp for optional record dates.
func NormalizeRecordDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := NormalizeTimestamp(*t)
	return &n
}

// EventKey is the identity of a reported usage: two events with equal keys describe
// the same usage and are resolved against each other. The timestamp is held as
// microseconds since the epoch so the key is comparable.
type EventKey struct {
	OrgID       string
	EventType   string
	EventSource string
	InstanceID  string
	TimestampUS int64
}

func NewEventKey(e *Event) EventKey {
	return EventKey{
		OrgID:       e.OrgID,
		EventType:   e.EventType,
		EventSource: e.EventSource,
		InstanceID:  e.InstanceID,
		TimestampUS: NormalizeTimestamp(e.Timestamp).UnixMicro(),
	}
}

// Timestamp returns the normalized timestamp of the key.
func (k EventKey) Timestamp() time.Time {
	return time.UnixMicro(k.TimestampUS).UTC()
}

// LockKey returns the advisory lock key serializing work on this identity.
func (k EventKey) LockKey() string {
	return types.GenerateLockKey(types.LockScopeEventIdentity, map[string]interface{}{
		"org_id":       k.OrgID,
		"event_type":   k.EventType,
		"event_source": k.EventSource,
		"instance_id":  k.InstanceID,
		"timestamp":    k.TimestampUS,
	})
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s@%s", k.OrgID, k.EventType, k.EventSource, k.InstanceID,
		k.Timestamp().Format(time.RFC3339Nano))
}

// UsageConflictKey is the unit at which usages conflict: one metric for one product
// tag, within an identity.
type UsageConflictKey struct {
	ProductTag string
	MetricID   string
}

func (k UsageConflictKey) String() string {
	return k.ProductTag + ":" + k.MetricID
}

// ConflictKeysFor returns the keys of an event in a fixed order: measurements outer,
// product tags inner.
func ConflictKeysFor(e *Event) []UsageConflictKey {
	keys := make([]UsageConflictKey, 0, len(e.Measurements)*len(e.ProductTags))
	for _, m := range e.Measurements {
		for _, tag := range e.ProductTags {
			keys = append(keys, UsageConflictKey{ProductTag: tag, MetricID: m.EffectiveMetricID()})
		}
	}
	return keys
}

// GroupByIdentity groups events by EventKey. Keys are returned in order of first
// appearance and events keep their arrival order within a group.
func GroupByIdentity(evts []*Event) ([]EventKey, map[EventKey][]*Event) {
	keys := make([]EventKey, 0)
	groups := make(map[EventKey][]*Event)
	for _, e := range evts {
		k := NewEventKey(e)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	return keys, groups
}
