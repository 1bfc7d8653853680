// Package sqltx provides a txcoord.TxManager for database/sql drivers.
//
// SQLite allows a single writer at a time. A transactional invocation whose
// batches all write to SQLite will block on the write lock until the barrier
// times out, so with SQLite use one batch, or batches that only read.
package sqltx

import (
	"context"
	"database/sql"
	"fmt"

	"batchtx/pkg/txcoord"
)

// Manager opens one *sql.Tx per worker.
type Manager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewManager returns a Manager for db. opts may be nil.
func NewManager(db *sql.DB, opts *sql.TxOptions) *Manager {
	return &Manager{db: db, opts: opts}
}

// Begin implements txcoord.TxManager. database/sql rolls a transaction back
// when its context is cancelled, so the transaction is detached from ctx's
// cancellation; commit and rollback are decided by the coordinator.
func (m *Manager) Begin(ctx context.Context) (txcoord.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sqltx: begin: %w", err)
	}
	tx, err := m.db.BeginTx(context.WithoutCancel(ctx), m.opts)
	if err != nil {
		return nil, fmt.Errorf("sqltx: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx adapts *sql.Tx to txcoord.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *Tx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

// FromContext returns the worker's *sql.Tx carried by ctx.
func FromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := txcoord.TxFromContext(ctx)
	if !ok {
		return nil, false
	}
	t, ok := tx.(*Tx)
	if !ok {
		return nil, false
	}
	return t.tx, true
}
