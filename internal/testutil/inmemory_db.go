package testutil

import (
	"context"
	"sync"

	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/types"
)

type memTxKey struct{}

type memTx struct {
	onCommit []func()
	locks    []string
}

// InMemoryDB implements postgres.IClient for tests. Transactions are fully
// serialized; writes registered with AfterCommit are applied only when the
// transaction function succeeds.
type InMemoryDB struct {
	txMu sync.Mutex

	mu        sync.Mutex
	lockLog   []string
	commits   int
	rollbacks int
}

func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{}
}

func (db *InMemoryDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		db.mu.Lock()
		db.rollbacks++
		db.mu.Unlock()
		return err
	}

	for _, apply := range tx.onCommit {
		apply()
	}

	db.mu.Lock()
	db.commits++
	db.lockLog = append(db.lockLog, tx.locks...)
	db.mu.Unlock()
	return nil
}

func (db *InMemoryDB) LockKey(ctx context.Context, req types.LockRequest) error {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return ierr.NewError("LockKey must be called inside transaction").
			Mark(ierr.ErrInvalidOperation)
	}
	tx.locks = append(tx.locks, req.Key)
	return nil
}

// AfterCommit defers apply until the transaction in ctx commits. Outside a
// transaction apply runs immediately.
func AfterCommit(ctx context.Context, apply func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.onCommit = append(tx.onCommit, apply)
		return
	}
	apply()
}

// LockLog returns the lock keys taken by committed transactions, in order.
func (db *InMemoryDB) LockLog() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.lockLog...)
}

func (db *InMemoryDB) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

func (db *InMemoryDB) Rollbacks() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rollbacks
}

func (db *InMemoryDB) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.lockLog = nil
	db.commits = 0
	db.rollbacks = 0
}
