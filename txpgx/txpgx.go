// Package txpgx runs pipeline calls inside pgx transactions.
//
// A call made while a transaction is already open on the context begins a
// pseudo nested transaction on it, which pgx implements with a savepoint.
package txpgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tobbstr/pipeline"
)

// Beginner is implemented by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Querier is the query surface shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Transactor implements pipeline.Transactor on top of a pgx pool or connection.
type Transactor struct {
	db Beginner
}

var _ pipeline.Transactor = (*Transactor)(nil)

// New returns a Transactor that begins transactions on db.
func New(db Beginner) *Transactor {
	return &Transactor{db: db}
}

// FromContext returns the transaction opened for the running pipeline call.
func FromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// Executor returns the transaction of the running call, or db when the call
// is not transactional.
func Executor(ctx context.Context, db Querier) Querier {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return db
}

// InTransaction implements pipeline.Transactor.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	var begin Beginner = t.db
	if outer, ok := FromContext(ctx); ok {
		begin = outer
	}

	tx, err := begin.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Rollback after Commit is a no-op returning pgx.ErrTxClosed.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if errors.Is(err, pipeline.ErrRollback) {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return fmt.Errorf("rollback tx: %w", rbErr)
			}
			return nil
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
