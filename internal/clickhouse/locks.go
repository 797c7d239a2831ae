package clickhouse

import (
	"context"
	"sync"
	"time"

	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/types"
)

type lockScopeKey struct{}

// lockScope is the set of keys held by one WithTx call.
type lockScope struct {
	mu   sync.Mutex
	held map[string]struct{}
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// keyLocks is a set of named mutexes that can be acquired with a deadline. Entries
// live only while someone holds or waits for them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) ref(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) unref(key string, l *keyLock, held bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if held {
		<-l.ch
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// acquire blocks until key is free, ctx is done or timeout passes. A timeout of zero
// or less fails fast.
func (k *keyLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	l := k.ref(key)

	if timeout <= 0 {
		select {
		case l.ch <- struct{}{}:
			return nil
		default:
			k.unref(key, l, false)
			return ierr.NewError("lock already held (timeout: 0ms)").
				WithHint("Another batch is resolving the same usage").
				WithReportableDetails(map[string]interface{}{"lock_key": key}).
				Mark(ierr.ErrDatabase)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.unref(key, l, false)
		return ctx.Err()
	case <-timer.C:
		k.unref(key, l, false)
		return ierr.NewErrorf("failed to acquire lock within %v", timeout).
			WithHint("Another batch is resolving the same usage").
			WithReportableDetails(map[string]interface{}{"lock_key": key}).
			Mark(ierr.ErrDatabase)
	}
}

func (k *keyLocks) release(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	k.unref(key, l, true)
}

// WithTx scopes the locks taken by fn: they are released when fn returns. Nested
// calls join the outer scope. Writes are not rolled back on error.
func (s *ClickHouseStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(lockScopeKey{}).(*lockScope); ok {
		return fn(ctx)
	}

	scope := &lockScope{held: make(map[string]struct{})}
	defer func() {
		scope.mu.Lock()
		defer scope.mu.Unlock()
		for key := range scope.held {
			s.locks.release(key)
		}
	}()

	return fn(context.WithValue(ctx, lockScopeKey{}, scope))
}

// LockKey acquires the process local lock for req.Key until the enclosing WithTx
// returns. Locking a key already held by the scope is a no-op.
// Must be called inside WithTx.
func (s *ClickHouseStore) LockKey(ctx context.Context, req types.LockRequest) error {
	scope, ok := ctx.Value(lockScopeKey{}).(*lockScope)
	if !ok {
		return ierr.NewError("LockKey must be called inside transaction").
			Mark(ierr.ErrInvalidOperation)
	}

	scope.mu.Lock()
	_, held := scope.held[req.Key]
	scope.mu.Unlock()
	if held {
		return nil
	}

	if err := s.locks.acquire(ctx, req.Key, req.GetTimeout()); err != nil {
		return err
	}

	scope.mu.Lock()
	scope.held[req.Key] = struct{}{}
	scope.mu.Unlock()
	return nil
}
