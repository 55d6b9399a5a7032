package pipeline

import "context"

// Transactor opens an atomic scope around a pipeline call. It is supplied by
// the persistence layer (see the txsql and txpgx packages) and passed to an
// instance with WithTransactor.
//
// InTransaction runs fn inside a transaction and commits when fn returns nil.
// When fn returns ErrRollback the transaction is rolled back and
// InTransaction returns nil. Any other error from fn also rolls back and is
// returned. If fn panics the transaction must be rolled back before the
// panic continues.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactorFunc is an adapter to allow the use of ordinary functions as transactors.
type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// InTransaction calls f(ctx, fn).
func (f TransactorFunc) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}
