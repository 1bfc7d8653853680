package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchtx/internal/models"
	"batchtx/pkg/txcoord"
)

func notificationFor(bucket, key string) string {
	return fmt.Sprintf(`{"Records":[{"s3":{"bucket":{"name":%q},"object":{"key":%q}}}]}`, bucket, key)
}

func TestObjectsOf(t *testing.T) {
	refs, err := objectsOf([]byte(notificationFor("inbox", "2024%2Fday+one.jsonl")))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, objectRef{bucket: "inbox", key: "2024/day one.jsonl"}, refs[0])

	_, err = objectsOf([]byte(`{"Records":[]}`))
	assert.Error(t, err)

	_, err = objectsOf([]byte("nope"))
	assert.Error(t, err)
}

func TestObjectFeed_ImportsEachObject(t *testing.T) {
	src := newFakeSource(notificationFor("inbox", "a.jsonl"), "garbage", notificationFor("inbox", "b.jsonl"))
	objects := map[string][]models.Record{
		"inbox/a.jsonl": {{Key: "a1", Value: "x"}, {Key: "a2", Value: "y"}, {Key: "a3", Value: "z"}},
		"inbox/b.jsonl": {{Key: "b1", Value: "x"}},
	}
	load := func(_ context.Context, bucket, key string) ([]models.Record, error) {
		return objects[bucket+"/"+key], nil
	}

	counter := make(chan int, 16)
	countWrite := func(_ context.Context, b []models.Record) error {
		counter <- len(b)
		return nil
	}

	arch := &recordingArchiver{}
	f, err := NewObjectFeed(src, coordinator(), load, countWrite, Config{BatchSize: 2, ReportBucket: "reports"}, WithArchiver(arch))
	require.NoError(t, err)
	require.NoError(t, f.Run(context.Background()))

	close(counter)
	var written int
	for n := range counter {
		written += n
	}
	assert.Equal(t, 4, written)
	assert.Len(t, src.committed, 3)
	require.Len(t, arch.reports, 2)
	assert.Equal(t, "s3:inbox/a.jsonl", arch.reports[0].Source)
	assert.Equal(t, 3, arch.reports[0].Items)
}

func TestObjectFeed_StopsOnFailedObject(t *testing.T) {
	src := newFakeSource(notificationFor("inbox", "bad.jsonl"), notificationFor("inbox", "next.jsonl"))
	load := func(context.Context, string, string) ([]models.Record, error) {
		return []models.Record{{Key: "k", Value: "v"}}, nil
	}
	write := func(context.Context, []models.Record) error { return errors.New("unique violation") }

	f, err := NewObjectFeed(src, coordinator(), load, write, Config{BatchSize: 10})
	require.NoError(t, err)

	err = f.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvocationFailed)
	assert.Empty(t, src.committed)
}

func TestObjectFeed_LoadError(t *testing.T) {
	src := newFakeSource(notificationFor("inbox", "gone.jsonl"))
	load := func(context.Context, string, string) ([]models.Record, error) {
		return nil, errors.New("NoSuchKey")
	}
	f, err := NewObjectFeed(src, coordinator(), load, func(context.Context, []models.Record) error { return nil }, Config{BatchSize: 1})
	require.NoError(t, err)

	assert.ErrorContains(t, f.Run(context.Background()), "gone.jsonl")
	assert.Empty(t, src.committed)
}

// poolTxManager hands out at most cap(slots) open transactions at a time,
// blocking Begin like a connection pool does.
type poolTxManager struct {
	slots chan struct{}
}

func newPoolTxManager(size int) *poolTxManager {
	return &poolTxManager{slots: make(chan struct{}, size)}
}

func (p *poolTxManager) Begin(ctx context.Context) (txcoord.Tx, error) {
	select {
	case p.slots <- struct{}{}:
		return pooledTx{slots: p.slots}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pooledTx struct {
	slots chan struct{}
}

func (t pooledTx) Commit(context.Context) error   { <-t.slots; return nil }
func (t pooledTx) Rollback(context.Context) error { <-t.slots; return nil }

func largeObject(n int) LoaderFunc {
	recs := make([]models.Record, n)
	for i := range recs {
		recs[i] = models.Record{Key: fmt.Sprintf("k%d", i), Value: "v"}
	}
	return func(context.Context, string, string) ([]models.Record, error) { return recs, nil }
}

func TestObjectFeed_FitsLargeObjectIntoPool(t *testing.T) {
	src := newFakeSource(notificationFor("inbox", "big.jsonl"))
	c := txcoord.New(newPoolTxManager(2), txcoord.WithBarrierTimeout(500*time.Millisecond))

	sizes := make(chan int, 16)
	write := func(_ context.Context, b []models.Record) error {
		sizes <- len(b)
		return nil
	}

	arch := &recordingArchiver{}
	f, err := NewObjectFeed(src, c, largeObject(10), write, Config{BatchSize: 2, MaxBatches: 2, ReportBucket: "reports"}, WithArchiver(arch))
	require.NoError(t, err)
	require.NoError(t, f.Run(context.Background()))

	close(sizes)
	var got []int
	for n := range sizes {
		got = append(got, n)
	}
	assert.Equal(t, []int{5, 5}, got)
	assert.Len(t, src.committed, 1)
	require.Len(t, arch.reports, 1)
	assert.True(t, arch.reports[0].Success)
	assert.Equal(t, 2, arch.reports[0].Committed)
}

func TestObjectFeed_UncappedObjectExhaustsPool(t *testing.T) {
	src := newFakeSource(notificationFor("inbox", "big.jsonl"))
	c := txcoord.New(newPoolTxManager(2), txcoord.WithBarrierTimeout(100*time.Millisecond))

	f, err := NewObjectFeed(src, c, largeObject(10), func(context.Context, []models.Record) error { return nil }, Config{BatchSize: 2})
	require.NoError(t, err)

	assert.ErrorIs(t, f.Run(context.Background()), ErrInvocationFailed)
	assert.Empty(t, src.committed)
}
