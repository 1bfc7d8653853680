package sqltx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchtx/pkg/txcoord"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE records (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n))
	return n
}

type pair struct{ k, v string }

func insert(ctx context.Context, batch []pair) error {
	tx, ok := FromContext(ctx)
	if !ok {
		return errors.New("no sql transaction in context")
	}
	for _, p := range batch {
		if _, err := tx.ExecContext(ctx, `INSERT INTO records (key, value) VALUES (?, ?)`, p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

func TestManager_CommitsSingleBatch(t *testing.T) {
	db := openDB(t)
	c := txcoord.New(NewManager(db, nil))

	res, err := txcoord.ExecuteWithTransaction(context.Background(), c, []pair{{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}}, 5, insert)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err())
	assert.Equal(t, 3, count(t, db))
}

func TestManager_RollsBackOnDuplicate(t *testing.T) {
	db := openDB(t)
	c := txcoord.New(NewManager(db, nil))

	res, err := txcoord.ExecuteWithTransaction(context.Background(), c, []pair{{"k1", "v1"}, {"k2", "v2"}, {"k1", "again"}}, 5, insert)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, txcoord.StateRolledBack, res.Batches[0].State)
	assert.Equal(t, 0, count(t, db))
}

func TestManager_ConcurrentReaders(t *testing.T) {
	db := openDB(t)
	_, err := db.Exec(`INSERT INTO records (key, value) VALUES ('a', '1'), ('b', '2')`)
	require.NoError(t, err)

	c := txcoord.New(NewManager(db, nil), txcoord.WithBarrierTimeout(5*time.Second))
	res, err := txcoord.ExecuteWithTransaction(context.Background(), c, []string{"a", "b", "a", "b"}, 1, func(ctx context.Context, keys []string) error {
		tx, ok := FromContext(ctx)
		if !ok {
			return errors.New("no sql transaction in context")
		}
		var v string
		return tx.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, keys[0]).Scan(&v)
	})
	require.NoError(t, err)
	assert.True(t, res.Success, "%v", res.Err())
	assert.Equal(t, 4, res.Count(txcoord.StateCommitted))
}

func TestFromContext_WrongType(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestManager_CommitSurvivesCancelledContext(t *testing.T) {
	db := openDB(t)
	c := txcoord.New(NewManager(db, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := txcoord.ExecuteWithTransaction(ctx, c, []pair{{"k1", "v1"}}, 1, func(ctx context.Context, batch []pair) error {
		if err := insert(ctx, batch); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err())
	assert.Equal(t, txcoord.StateCommitted, res.Batches[0].State)
	assert.Equal(t, 1, count(t, db))
}

func TestManager_BeginRefusesCancelledContext(t *testing.T) {
	db := openDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewManager(db, nil).Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
