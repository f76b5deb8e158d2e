package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// RetryPolicy configures the retrying execution strategy around a transaction.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first one (default: 3)
	MaxRetries uint64

	// InitialInterval is the first backoff delay (default: 50ms)
	InitialInterval time.Duration

	// MaxElapsed bounds the total time spent retrying (default: 5s)
	MaxElapsed time.Duration

	// OnRetry is called before every retry with the transient error.
	OnRetry func(err error, wait time.Duration)
}

// DefaultRetryPolicy returns the policy used by the server.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxElapsed:      5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxElapsed > 0 {
		eb.MaxElapsedTime = p.MaxElapsed
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// IsTransient reports whether err is a connectivity or serialization failure that is safe
// to resolve by running the whole transaction again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08") // connection exceptions
	}

	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// RunInTx runs fn inside a transaction, committing when fn returns nil and rolling back otherwise.
// Transient failures restart the whole body on a fresh transaction; every other error is
// returned unchanged after rollback.
//
// Parameters:
//   - ctx: Request context; cancellation stops further retries
//   - db: Pool to begin transactions on
//   - policy: Retry configuration
//   - logger: Logger for retry events
//   - fn: Transaction body; it must not keep tx after returning
//
// Example:
//
//	err := database.RunInTx(ctx, pool, database.DefaultRetryPolicy(), logger, func(tx pgx.Tx) error {
//	    _, err := tx.Exec(ctx, "UPDATE signers SET status = $1 WHERE id = $2", status, id)
//	    return err
//	})
func RunInTx(ctx context.Context, db DBInterface, policy RetryPolicy, logger zerolog.Logger, fn func(tx pgx.Tx) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying transaction after transient failure")
		if policy.OnRetry != nil {
			policy.OnRetry(err, wait)
		}
	}

	return backoff.RetryNotify(operation, policy.backOff(ctx), notify)
}

func runOnce(ctx context.Context, db DBInterface, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
