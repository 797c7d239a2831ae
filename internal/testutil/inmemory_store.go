package testutil

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/flexprice/usageledger/internal/errors"
)

// FilterFunc selects items in List. A nil FilterFunc selects everything.
type FilterFunc[T any] func(ctx context.Context, item T) bool

// SortFunc orders items in List. A nil SortFunc keeps insertion order.
type SortFunc[T any] func(a, b T) bool

// InMemoryStore is a concurrency safe keyed store that remembers insertion order.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{
		items: make(map[string]T),
	}
}

func (s *InMemoryStore[T]) Create(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ierr.NewError("item already exists").
			WithReportableDetails(map[string]interface{}{"id": id}).
			Mark(ierr.ErrAlreadyExists)
	}
	s.items[id] = item
	s.order = append(s.order, id)
	return nil
}

func (s *InMemoryStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, ierr.NewError("item not found").
			WithReportableDetails(map[string]interface{}{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return item, nil
}

func (s *InMemoryStore[T]) List(ctx context.Context, filterFn FilterFunc[T], sortFn SortFunc[T]) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		item := s.items[id]
		if filterFn != nil && !filterFn(ctx, item) {
			continue
		}
		out = append(out, item)
	}

	if sortFn != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return sortFn(out[i], out[j])
		})
	}
	return out, nil
}

func (s *InMemoryStore[T]) Count(ctx context.Context, filterFn FilterFunc[T]) (int, error) {
	items, err := s.List(ctx, filterFn, nil)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Clear removes all items
func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]T)
	s.order = nil
}
