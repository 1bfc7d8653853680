package records

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"batchtx/internal/models"
	"batchtx/internal/sqltx"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// OpenSQLite opens the SQLite database at path in WAL mode.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, nil
}

// SQLiteRepository writes records to SQLite. Inside a coordinated worker it
// uses the worker's *sql.Tx.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertBatch matches txcoord.BatchFunc[models.Record].
func (r *SQLiteRepository) InsertBatch(ctx context.Context, recs []models.Record) error {
	exec := r.db.ExecContext
	if tx, ok := sqltx.FromContext(ctx); ok {
		exec = tx.ExecContext
	}
	for _, rec := range recs {
		if _, err := exec(ctx, `INSERT INTO records (key, value) VALUES (?, ?)`, rec.Key, rec.Value); err != nil {
			return fmt.Errorf("insert %q: %w", rec.Key, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
