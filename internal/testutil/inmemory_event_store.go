package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/usageledger/internal/clock"
	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/samber/lo"
)

// InMemoryEventStore implements events.Repository
type InMemoryEventStore struct {
	*InMemoryStore[*events.Event]
	clock clock.Clock

	mu             sync.Mutex
	lastRecordDate time.Time
	findErr        error
	saveHook       func(evts []*events.Event) error
	findCalls      int
}

func NewInMemoryEventStore(c clock.Clock) *InMemoryEventStore {
	return &InMemoryEventStore{
		InMemoryStore: NewInMemoryStore[*events.Event](),
		clock:         c,
	}
}

func recordOrder(a, b *events.Event) bool {
	switch {
	case a.RecordDate == nil:
		return false
	case b.RecordDate == nil:
		return true
	case !a.RecordDate.Equal(*b.RecordDate):
		return a.RecordDate.Before(*b.RecordDate)
	default:
		return a.ID < b.ID
	}
}

func (s *InMemoryEventStore) FindConflictingEvents(ctx context.Context, keys []events.EventKey) ([]*events.Event, error) {
	s.mu.Lock()
	s.findCalls++
	findErr := s.findErr
	s.mu.Unlock()

	if findErr != nil {
		return nil, ierr.WithError(findErr).
			WithHint("Failed to find conflicting events").
			Mark(ierr.ErrDatabase)
	}

	wanted := lo.SliceToMap(keys, func(k events.EventKey) (events.EventKey, struct{}) {
		return k, struct{}{}
	})

	found, err := s.InMemoryStore.List(ctx, func(_ context.Context, e *events.Event) bool {
		_, ok := wanted[events.NewEventKey(e)]
		return ok
	}, recordOrder)
	if err != nil {
		return nil, err
	}

	return lo.Map(found, func(e *events.Event, _ int) *events.Event {
		return e.Copy()
	}), nil
}

func (s *InMemoryEventStore) SaveAll(ctx context.Context, evts []*events.Event) ([]*events.Event, error) {
	if len(evts) == 0 {
		return []*events.Event{}, nil
	}

	s.mu.Lock()
	hook := s.saveHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(evts); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to save events").
				Mark(ierr.ErrDatabase)
		}
	}

	stamped := events.StampForPersistence(evts, s.nextRecordDate(ctx, evts))

	AfterCommit(ctx, func() {
		for _, rec := range stamped {
			_ = s.InMemoryStore.Create(ctx, rec.ID, rec.Copy())
		}
	})

	return lo.Map(stamped, func(e *events.Event, _ int) *events.Event {
		return e.Copy()
	}), nil
}

// nextRecordDate returns the first record date for a commit of evts. Like the real
// stores it starts after the newest persisted record of the committed identities;
// it also never repeats a record date of an earlier commit, even when the clock does
// not move.
func (s *InMemoryEventStore) nextRecordDate(ctx context.Context, evts []*events.Event) time.Time {
	wanted := lo.SliceToMap(events.IdentitiesOf(evts), func(k events.EventKey) (events.EventKey, struct{}) {
		return k, struct{}{}
	})
	persisted, _ := s.InMemoryStore.List(ctx, func(_ context.Context, e *events.Event) bool {
		_, ok := wanted[events.NewEventKey(e)]
		return ok && e.RecordDate != nil
	}, nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *time.Time
	if !s.lastRecordDate.IsZero() {
		last := s.lastRecordDate
		newest = &last
	}
	for _, e := range persisted {
		if newest == nil || e.RecordDate.After(*newest) {
			rd := *e.RecordDate
			newest = &rd
		}
	}

	base := events.FirstRecordDate(s.clock.Now(), newest)
	s.lastRecordDate = base.Add(time.Duration(len(evts)-1) * events.TimestampPrecision)
	return base
}

// Seed inserts already persisted records as given, without stamping. Records
// without an id get one.
func (s *InMemoryEventStore) Seed(ctx context.Context, evts ...*events.Event) error {
	for _, e := range evts {
		rec := e.Copy()
		if rec.ID == "" {
			rec.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT)
		}
		if err := s.InMemoryStore.Create(ctx, rec.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

// All returns every persisted record in ledger order.
func (s *InMemoryEventStore) All(ctx context.Context) []*events.Event {
	all, _ := s.InMemoryStore.List(ctx, nil, recordOrder)
	return all
}

func (s *InMemoryEventStore) SetFindError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr = err
}

// SetSaveHook installs a function consulted before every SaveAll; a non-nil error
// fails the save.
func (s *InMemoryEventStore) SetSaveHook(hook func(evts []*events.Event) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveHook = hook
}

func (s *InMemoryEventStore) FindCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

func (s *InMemoryEventStore) Clear() {
	s.InMemoryStore.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRecordDate = time.Time{}
	s.findErr = nil
	s.saveHook = nil
	s.findCalls = 0
}
