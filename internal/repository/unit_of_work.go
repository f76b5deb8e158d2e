package repository

import (
	"context"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// UnitOfWork hands out stores bound to the pool for reads and to a single transaction for writes.
type UnitOfWork struct {
	db     database.DBInterface
	policy database.RetryPolicy
	logger zerolog.Logger
}

// NewUnitOfWork creates a unit of work over db retrying transient failures per policy.
func NewUnitOfWork(db database.DBInterface, policy database.RetryPolicy, logger zerolog.Logger) *UnitOfWork {
	return &UnitOfWork{db: db, policy: policy, logger: logger}
}

// Stores returns stores that run each statement on its own pooled connection.
func (u *UnitOfWork) Stores() ports.Stores {
	return storesOn(u.db)
}

// Do runs fn in one transaction. Every store passed to fn shares that transaction; the body is
// re-run from the start when the transaction fails transiently.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx ports.Stores) error) error {
	return database.RunInTx(ctx, u.db, u.policy, u.logger, func(tx pgx.Tx) error {
		return fn(ctx, storesOn(tx))
	})
}

func storesOn(q database.Querier) ports.Stores {
	return ports.Stores{
		Collections: NewCollectionRepository(q),
		Signers:     NewSignerRepository(q),
		Sessions:    NewSessionRepository(q),
		Audit:       NewAuditRepository(q),
	}
}
