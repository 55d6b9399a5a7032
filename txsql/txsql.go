// Package txsql runs pipeline calls inside database/sql transactions.
//
// The outermost call begins a transaction on the *sql.DB. A call made while
// a transaction is already open on the context, for example by a step that
// runs another pipeline, uses a savepoint instead, so a failing inner call
// undoes only its own writes.
package txsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tobbstr/pipeline"
)

// Querier is implemented by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type scope struct {
	tx    *sql.Tx
	depth int
}

// Transactor implements pipeline.Transactor on top of a *sql.DB.
type Transactor struct {
	db   *sql.DB
	opts *sql.TxOptions
}

var _ pipeline.Transactor = (*Transactor)(nil)

// Option configures a Transactor.
type Option func(*Transactor)

// WithTxOptions sets the isolation level and read-only flag of outermost transactions.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(t *Transactor) {
		t.opts = opts
	}
}

// New returns a Transactor that opens transactions on db.
func New(db *sql.DB, opts ...Option) *Transactor {
	t := &Transactor{db: db}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FromContext returns the transaction opened for the running pipeline call.
func FromContext(ctx context.Context) (*sql.Tx, bool) {
	s, ok := ctx.Value(txKey{}).(*scope)
	if !ok {
		return nil, false
	}
	return s.tx, true
}

// Executor returns the transaction of the running call, or db when the call
// is not transactional. Steps use it so they work either way.
func Executor(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return db
}

// InTransaction implements pipeline.Transactor.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if outer, ok := ctx.Value(txKey{}).(*scope); ok {
		return t.inSavepoint(ctx, outer, fn)
	}

	tx, err := t.db.BeginTx(ctx, t.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, &scope{tx: tx})); err != nil {
		if errors.Is(err, pipeline.ErrRollback) {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				return fmt.Errorf("rollback tx: %w", rbErr)
			}
			return nil
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (t *Transactor) inSavepoint(ctx context.Context, outer *scope, fn func(ctx context.Context) error) error {
	inner := &scope{tx: outer.tx, depth: outer.depth + 1}
	name := fmt.Sprintf("pipeline_sp_%d", inner.depth)

	if _, err := outer.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint %s: %w", name, err)
	}

	released := false
	defer func() {
		if !released {
			_, _ = outer.tx.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+name)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, inner)); err != nil {
		if !errors.Is(err, pipeline.ErrRollback) {
			return err
		}
		released = true
		if _, err := outer.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return fmt.Errorf("rollback to savepoint %s: %w", name, err)
		}
		if _, err := outer.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
			return fmt.Errorf("release savepoint %s: %w", name, err)
		}
		return nil
	}

	released = true
	if _, err := outer.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
