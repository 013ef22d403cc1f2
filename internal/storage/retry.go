package storage

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// retryPolicy bounds how often a write is re-attempted after a transient
// conflict. Delays double from base with up to base of jitter added.
type retryPolicy struct {
	retries int
	base    time.Duration
}

// snapshotWrites is the policy for run snapshot and champion upserts.
var snapshotWrites = retryPolicy{retries: 3, base: 20 * time.Millisecond}

// transientCodes are Postgres SQLSTATEs after which a write is safe to
// repeat unchanged.
var transientCodes = map[string]string{
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
}

// transientCode reports the SQLSTATE name when err is worth retrying.
func transientCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	name, ok := transientCodes[pgErr.Code]
	return name, ok
}

// withRetry runs fn under p, logging every retried attempt on logger.
// Non-transient errors and context cancellation end it immediately.
func withRetry(ctx context.Context, logger *slog.Logger, p retryPolicy, fn func() error) error {
	delay := p.base
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		code, ok := transientCode(err)
		if !ok || attempt == p.retries {
			return err
		}
		wait := delay + time.Duration(rand.Int64N(int64(delay)+1)) //nolint:gosec // jitter only
		logger.Debug("storage: transient conflict, retrying", "sqlstate", code, "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}

// retryWrite retries a write touching one run, tagging logs with the run id.
func (db *DB) retryWrite(ctx context.Context, op string, runID uuid.UUID, fn func() error) error {
	return withRetry(ctx, db.logger.With("op", op, "run_id", runID.String()), snapshotWrites, fn)
}
