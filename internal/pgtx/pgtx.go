// Package pgtx provides a txcoord.TxManager backed by a PostgreSQL pool.
package pgtx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"batchtx/pkg/txcoord"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Querier is the query surface shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Manager opens one pgx transaction per worker.
type Manager struct {
	db   TxBeginner
	opts pgx.TxOptions
}

// NewManager returns a Manager that begins transactions on db with opts.
func NewManager(db TxBeginner, opts pgx.TxOptions) *Manager {
	return &Manager{db: db, opts: opts}
}

// Begin implements txcoord.TxManager. The returned value is a pgx.Tx.
func (m *Manager) Begin(ctx context.Context) (txcoord.Tx, error) {
	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return nil, fmt.Errorf("pgtx: begin: %w", err)
	}
	return tx, nil
}

// FromContext returns the worker's pgx.Tx carried by ctx.
func FromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := txcoord.TxFromContext(ctx)
	if !ok {
		return nil, false
	}
	pgTx, ok := tx.(pgx.Tx)
	return pgTx, ok
}

// Q returns the transaction carried by ctx, or fallback when there is none.
// Repositories use it so the same code runs inside and outside a worker.
func Q(ctx context.Context, fallback Querier) Querier {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return fallback
}

// Connect opens a pool for url. Every worker of a transactional invocation
// holds a connection until the barrier releases, so maxConns must be at least
// the number of batches in the largest invocation.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("pgtx: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgtx: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgtx: ping: %w", err)
	}
	return pool, nil
}
