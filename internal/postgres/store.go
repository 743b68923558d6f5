package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-api/internal/domain/order"
)

var _ order.Store = (*Store)(nil)

// Store implements order.Store on a pgx pool. The embedded queries run
// non-transactional reads directly on the pool; Checkout re-binds the same
// query set to a serializable transaction.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Serialization conflicts are an expected outcome of Serializable isolation
// under concurrent checkouts; the losing transaction is retried from scratch.
const maxCheckoutAttempts = 3

// Checkout runs fn inside a serializable transaction. Serializable isolation
// plus the conditional stock/coupon updates is the entire concurrency story:
// two checkouts racing for the last unit cannot both commit. A checkout that
// loses a serialization conflict (SQLSTATE 40001) re-runs against the
// committed state, where it resolves to a domain outcome such as
// insufficient stock or an exhausted coupon.
func (s *Store) Checkout(ctx context.Context, fn func(tx order.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxCheckoutAttempts; attempt++ {
		if err = s.checkoutOnce(ctx, fn); !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

// checkoutOnce is a single transaction attempt. The statement timeout is
// extended because the transaction spans many statements.
func (s *Store) checkoutOnce(ctx context.Context, fn func(tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin checkout tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = '30s'"); err != nil {
		return errors.Wrap(err, "set statement timeout")
	}

	if err := fn(queries{db: tx}); err != nil {
		if isUniqueViolation(err, "orders_user_idempotency_key") {
			return order.ErrIdempotencyConflict
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, "orders_user_idempotency_key") {
			return order.ErrIdempotencyConflict
		}
		return errors.Wrap(err, "commit checkout tx")
	}
	return nil
}

// queries holds every SQL operation. db is either the pool or a transaction.
type queries struct {
	db Querier
}

var _ order.Tx = queries{}
