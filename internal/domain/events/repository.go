package events

import "context"

// Repository is the usage ledger. It is append only: records are never updated or
// deleted, corrections are expressed as deductions.
type Repository interface {
	// FindConflictingEvents returns every persisted record, deductions included,
	// whose identity is one of keys. It is called once per resolution batch.
	FindConflictingEvents(ctx context.Context, keys []EventKey) ([]*Event, error)

	// SaveAll appends records in order, assigning ids and strictly increasing record
	// dates. The records are returned with those fields set.
	SaveAll(ctx context.Context, evts []*Event) ([]*Event, error)
}
