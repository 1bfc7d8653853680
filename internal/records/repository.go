package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"batchtx/internal/models"
	"batchtx/internal/pgtx"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertSQL = `INSERT INTO records (key, value) VALUES ($1, $2)`

// Repository writes records. Inside a coordinated worker it uses the worker's
// transaction; elsewhere it falls back to db.
type Repository struct {
	db pgtx.Querier
}

func NewRepository(db pgtx.Querier) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the records table if it is missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertBatch inserts recs in a single round trip. A duplicate key fails the
// whole batch. Its signature matches txcoord.BatchFunc[models.Record].
func (r *Repository) InsertBatch(ctx context.Context, recs []models.Record) error {
	b := &pgx.Batch{}
	for _, rec := range recs {
		b.Queue(insertSQL, rec.Key, rec.Value)
	}

	br := pgtx.Q(ctx, r.db).SendBatch(ctx, b)
	for i := range recs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert %q: %w", recs[i].Key, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := pgtx.Q(ctx, r.db).QueryRow(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
