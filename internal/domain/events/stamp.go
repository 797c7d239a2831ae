package events

import (
	"time"

	"github.com/flexprice/usageledger/internal/types"
)

// StampForPersistence returns copies of evts with ids and record dates assigned.
// Record dates start at now and are one TimestampPrecision apart, so the arrival
// order of a commit is preserved by the record date.
func StampForPersistence(evts []*Event, now time.Time) []*Event {
	base := NormalizeTimestamp(now)
	out := make([]*Event, len(evts))
	for i, e := range evts {
		rec := e.Copy()
		recordDate := base.Add(time.Duration(i) * TimestampPrecision)
		rec.ID = types.GenerateUUIDWithPrefixAt(types.UUID_PREFIX_EVENT, recordDate)
		rec.RecordDate = &recordDate
		rec.Timestamp = NormalizeTimestamp(rec.Timestamp)
		out[i] = rec
	}
	return out
}

// FirstRecordDate returns the record date for the first record of a commit. It is
// now, unless the ledger already holds a record dated at or after now for one of the
// committed identities, in which case it is one TimestampPrecision after the newest
// of them. A commit therefore always sorts after everything persisted before it.
func FirstRecordDate(now time.Time, newest *time.Time) time.Time {
	base := NormalizeTimestamp(now)
	if newest == nil {
		return base
	}
	floor := NormalizeTimestamp(*newest).Add(TimestampPrecision)
	if base.Before(floor) {
		return floor
	}
	return base
}

// IdentitiesOf returns the distinct identities of evts in first-seen order.
func IdentitiesOf(evts []*Event) []EventKey {
	keys, _ := GroupByIdentity(evts)
	return keys
}
