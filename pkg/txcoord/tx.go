package txcoord

import "context"

// Tx is a single unit of work opened against a transactional resource.
// A Tx is owned by exactly one worker and is finalized exactly once.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxManager opens transactions. Implementations must allow many transactions
// to be open concurrently and must not require them to be finalized in the
// order they were opened.
type TxManager interface {
	Begin(ctx context.Context) (Tx, error)
}

// TxManagerFunc adapts a function to the TxManager interface.
type TxManagerFunc func(ctx context.Context) (Tx, error)

// Begin calls f(ctx).
func (f TxManagerFunc) Begin(ctx context.Context) (Tx, error) {
	return f(ctx)
}

// BatchFunc is the caller's business logic for one batch. It must be safe to
// call concurrently for different batches. In transactional modes the open
// transaction is available through TxFromContext.
type BatchFunc[T any] func(ctx context.Context, batch []T) error

type txKey struct{}

// WithTx returns a copy of ctx carrying tx.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	return tx, ok
}
