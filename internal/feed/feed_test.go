package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchtx/internal/models"
	"batchtx/internal/report"
	"batchtx/pkg/txcoord"
)

type fakeSource struct {
	ch        chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeSource(values ...string) *fakeSource {
	s := &fakeSource{ch: make(chan kafka.Message, len(values))}
	for i, v := range values {
		s.ch <- kafka.Message{Topic: "records", Partition: 0, Offset: int64(i), Value: []byte(v)}
	}
	close(s.ch)
	return s
}

func (s *fakeSource) Messages() <-chan kafka.Message { return s.ch }

func (s *fakeSource) CommitOffset(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msgs...)
	return nil
}

type nopTx struct{}

func (nopTx) Commit(context.Context) error   { return nil }
func (nopTx) Rollback(context.Context) error { return nil }

func coordinator() *txcoord.Coordinator {
	return txcoord.New(txcoord.TxManagerFunc(func(context.Context) (txcoord.Tx, error) { return nopTx{}, nil }))
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	hdrs []map[string]string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.hdrs = append(p.hdrs, headers)
	return nil
}

type recordingArchiver struct {
	reports []report.Report
}

func (a *recordingArchiver) StoreReport(_ context.Context, _ string, rep report.Report) (string, error) {
	a.reports = append(a.reports, rep)
	return "reports/" + rep.ID, nil
}

func rec(k string) string {
	return fmt.Sprintf(`{"key":%q,"value":"v"}`, k)
}

func TestFeed_CommitsSuccessfulWindows(t *testing.T) {
	src := newFakeSource(rec("a"), rec("b"), rec("c"), rec("d"), rec("e"))

	var mu sync.Mutex
	var written []string
	write := func(_ context.Context, b []models.Record) error {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range b {
			written = append(written, r.Key)
		}
		return nil
	}

	pub := &recordingPublisher{}
	arch := &recordingArchiver{}
	f, err := New(src, coordinator(), write, Config{WindowSize: 2, BatchSize: 1, ReportBucket: "reports"},
		WithPublisher(pub), WithArchiver(arch))
	require.NoError(t, err)

	require.NoError(t, f.Run(context.Background()))

	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, written)
	assert.Len(t, src.committed, 5)
	assert.Len(t, pub.keys, 3)
	require.Len(t, arch.reports, 3)
	for _, h := range pub.hdrs {
		assert.Equal(t, "true", h["success"])
	}
	assert.Equal(t, "kafka:records/0@0-1", arch.reports[0].Source)
}

func TestFeed_StopsWithoutCommitOnFailure(t *testing.T) {
	src := newFakeSource(rec("a"), rec("b"), rec("bad"), rec("c"))
	write := func(_ context.Context, b []models.Record) error {
		if b[0].Key == "bad" {
			return errors.New("constraint violation")
		}
		return nil
	}

	pub := &recordingPublisher{}
	f, err := New(src, coordinator(), write, Config{WindowSize: 2, BatchSize: 1}, WithPublisher(pub))
	require.NoError(t, err)

	err = f.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvocationFailed)

	// Only the first window was committed.
	require.Len(t, src.committed, 2)
	assert.Equal(t, int64(1), src.committed[1].Offset)
	require.Len(t, pub.hdrs, 2)
	assert.Equal(t, "false", pub.hdrs[1]["success"])
}

func TestFeed_SkipsUndecodableMessages(t *testing.T) {
	src := newFakeSource("not json", rec(""), rec("ok"))
	var calls int
	var mu sync.Mutex
	write := func(_ context.Context, b []models.Record) error {
		mu.Lock()
		defer mu.Unlock()
		calls += len(b)
		return nil
	}

	f, err := New(src, coordinator(), write, Config{WindowSize: 10, BatchSize: 5})
	require.NoError(t, err)
	require.NoError(t, f.Run(context.Background()))

	assert.Equal(t, 1, calls)
	assert.Len(t, src.committed, 3)
}

func TestFeed_FlushesPartialWindowOnInterval(t *testing.T) {
	src := &fakeSource{ch: make(chan kafka.Message, 1)}
	src.ch <- kafka.Message{Topic: "records", Offset: 7, Value: []byte(rec("solo"))}

	f, err := New(src, coordinator(), func(context.Context, []models.Record) error { return nil },
		Config{WindowSize: 100, BatchSize: 10, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.committed) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFeed_FlushIntervalWaitsForIdle(t *testing.T) {
	src := &fakeSource{ch: make(chan kafka.Message)}
	f, err := New(src, coordinator(), func(context.Context, []models.Record) error { return nil },
		Config{WindowSize: 100, BatchSize: 10, FlushInterval: 80 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	for i := range 6 {
		src.ch <- kafka.Message{Topic: "records", Offset: int64(i), Value: []byte(rec(fmt.Sprintf("k%d", i)))}
		time.Sleep(20 * time.Millisecond)
	}

	// Messages kept arriving faster than the interval, so nothing was flushed.
	src.mu.Lock()
	assert.Empty(t, src.committed)
	src.mu.Unlock()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.committed) == 6
	}, time.Second, 5*time.Millisecond)

	close(src.ch)
	require.NoError(t, <-done)
}

func TestFeed_BatchSizeGrowsToMaxBatches(t *testing.T) {
	write := func(context.Context, []models.Record) error { return nil }
	f, err := New(newFakeSource(), coordinator(), write, Config{WindowSize: 1, BatchSize: 10, MaxBatches: 3})
	require.NoError(t, err)

	assert.Equal(t, 10, f.batchSize(30))
	assert.Equal(t, 11, f.batchSize(31))
	assert.Equal(t, 34, f.batchSize(100))

	f.cfg.MaxBatches = 0
	assert.Equal(t, 10, f.batchSize(1000))
}

func TestNew_Validates(t *testing.T) {
	write := func(context.Context, []models.Record) error { return nil }
	_, err := New(newFakeSource(), coordinator(), write, Config{WindowSize: 0, BatchSize: 1})
	assert.Error(t, err)
	_, err = New(newFakeSource(), coordinator(), write, Config{WindowSize: 1, BatchSize: 0})
	assert.ErrorIs(t, err, txcoord.ErrInvalidBatchSize)
	_, err = New(newFakeSource(), coordinator(), write, Config{WindowSize: 1, BatchSize: 1, MaxBatches: -1})
	assert.Error(t, err)
}
