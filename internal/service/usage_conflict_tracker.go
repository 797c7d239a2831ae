package service

import (
	"sort"
	"time"

	"github.com/flexprice/usageledger/internal/domain/events"
)

// UsageConflictTracker remembers, for one identity, the event currently holding the
// latest value of each conflict key. It is built per resolution call and does no I/O.
type UsageConflictTracker struct {
	entries map[events.UsageConflictKey]*trackedUsage
	ties    []events.UsageConflictKey
}

type trackedUsage struct {
	event      *events.Event
	recordDate *time.Time
}

// NewUsageConflictTracker seeds a tracker with persisted events of one identity.
// Deductions are skipped. Seeds are applied in record date order (records without a
// record date last, ties broken by id) so the most recently recorded value wins.
func NewUsageConflictTracker(seeds []*events.Event) *UsageConflictTracker {
	t := &UsageConflictTracker{
		entries: make(map[events.UsageConflictKey]*trackedUsage),
	}
	for _, e := range orderSeeds(seeds) {
		t.seed(e)
	}
	return t
}

func orderSeeds(seeds []*events.Event) []*events.Event {
	ordered := make([]*events.Event, 0, len(seeds))
	for _, e := range seeds {
		if e == nil || e.IsDeduction() {
			continue
		}
		ordered = append(ordered, e)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		di := events.NormalizeRecordDate(ordered[i].RecordDate)
		dj := events.NormalizeRecordDate(ordered[j].RecordDate)
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		case !di.Equal(*dj):
			return di.Before(*dj)
		case ordered[i].ID != "" && ordered[j].ID != "":
			return ordered[i].ID < ordered[j].ID
		default:
			return false
		}
	})
	return ordered
}

func (t *UsageConflictTracker) seed(e *events.Event) {
	recordDate := events.NormalizeRecordDate(e.RecordDate)
	for _, key := range events.ConflictKeysFor(e) {
		if cur, ok := t.entries[key]; ok && isTie(cur, recordDate) {
			t.ties = append(t.ties, key)
		}
		t.put(key, e, recordDate)
	}
}

// A tie is two persisted records for one key with the same record date. Seeds are
// ordered by id within a record date, so the later id wins, but the ledger should
// not contain such pairs.
func isTie(cur *trackedUsage, recordDate *time.Time) bool {
	return cur.recordDate != nil && recordDate != nil && cur.recordDate.Equal(*recordDate)
}

// Track registers e as the latest value for each of its conflict keys, subject to
// record date precedence. An event without a record date always becomes latest.
func (t *UsageConflictTracker) Track(e *events.Event) {
	if e.IsDeduction() {
		return
	}
	recordDate := events.NormalizeRecordDate(e.RecordDate)
	for _, key := range events.ConflictKeysFor(e) {
		t.put(key, e, recordDate)
	}
}

func (t *UsageConflictTracker) put(key events.UsageConflictKey, e *events.Event, recordDate *time.Time) {
	cur, ok := t.entries[key]
	if ok && !supersedes(recordDate, cur.recordDate) {
		return
	}
	t.entries[key] = &trackedUsage{event: e, recordDate: recordDate}
}

// supersedes reports whether a record dated candidate replaces one dated current.
// Nil means not yet persisted and is newer than any persisted record.
func supersedes(candidate, current *time.Time) bool {
	if candidate == nil {
		return true
	}
	if current == nil {
		return false
	}
	return !candidate.Before(*current)
}

// Contains reports whether any usage is tracked for key.
func (t *UsageConflictTracker) Contains(key events.UsageConflictKey) bool {
	_, ok := t.entries[key]
	return ok
}

// GetLatest returns the event holding the latest value for key.
func (t *UsageConflictTracker) GetLatest(key events.UsageConflictKey) (*events.Event, bool) {
	cur, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	return cur.event, true
}

// Ties returns the keys for which seeding met equal record dates it could not order.
func (t *UsageConflictTracker) Ties() []events.UsageConflictKey {
	return t.ties
}
