package postgres

import (
	"context"
	"errors"
	"fmt"

	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/lib/pq"
)

// LockKey acquires an advisory lock based on the provided request.
// If Timeout is nil, defaults to 30 seconds. If Timeout is 0 or negative, uses fail-fast behavior.
// Auto released on tx commit/rollback.
// Must be called inside a transaction.
func (c *Client) LockKey(ctx context.Context, req types.LockRequest) error {
	tx := c.TxFromContext(ctx)
	if tx == nil {
		return ierr.NewError("LockKey must be called inside transaction").
			Mark(ierr.ErrInvalidOperation)
	}

	timeout := req.GetTimeout()

	if timeout <= 0 {
		ok, err := c.TryLockKey(ctx, req.Key)
		if err != nil {
			return err
		}
		if !ok {
			return ierr.NewError("lock already held (timeout: 0ms)").
				WithHint("Another batch is resolving the same usage").
				WithReportableDetails(map[string]interface{}{"lock_key": req.Key}).
				Mark(ierr.ErrDatabase)
		}
		return nil
	}

	// Reset automatically on commit/rollback
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", timeout.Milliseconds()))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to set lock timeout").
			Mark(ierr.ErrDatabase)
	}

	_, err = tx.ExecContext(ctx, `
		SELECT pg_advisory_xact_lock(hashtext($1))
	`, req.Key)
	if err != nil {
		if isLockTimeoutError(err) {
			return ierr.WithError(err).
				WithHintf("Failed to acquire lock within %v", timeout).
				WithReportableDetails(map[string]interface{}{"lock_key": req.Key}).
				Mark(ierr.ErrDatabase)
		}
		return ierr.WithError(err).
			WithHint("Failed to acquire lock").
			Mark(ierr.ErrDatabase)
	}

	return nil
}

// isLockTimeoutError checks if the error is a PostgreSQL lock timeout error
func isLockTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 55P03 = lock_not_available
		return pqErr.Code == "55P03"
	}

	return false
}

// TryLockKey tries acquiring advisory lock immediately.
// Returns ok=false if lock is already held.
// Must be called inside a transaction.
func (c *Client) TryLockKey(ctx context.Context, key string) (bool, error) {
	tx := c.TxFromContext(ctx)
	if tx == nil {
		return false, ierr.NewError("TryLockKey must be called inside transaction").
			Mark(ierr.ErrInvalidOperation)
	}

	var ok bool
	err := tx.QueryRowContext(ctx, `
		SELECT pg_try_advisory_xact_lock(hashtext($1))
	`, key).Scan(&ok)
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to try lock").
			Mark(ierr.ErrDatabase)
	}

	return ok, nil
}
