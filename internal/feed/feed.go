// Package feed consumes records from Kafka and writes each window of
// messages with one coordinated, all-or-nothing invocation. Offsets are
// committed only when the invocation succeeded, so a failed window is
// redelivered after a restart.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"batchtx/internal/models"
	"batchtx/internal/records"
	"batchtx/internal/report"
	"batchtx/pkg/txcoord"
)

// ErrInvocationFailed is returned by Run when a window could not be written.
var ErrInvocationFailed = errors.New("feed: invocation failed")

// MessageSource defines the contract for consuming messages from a Kafka
// topic. Implementations own the lifecycle of the consumer connection.
type MessageSource interface {
	// Messages returns a receive-only channel of Kafka messages. The channel
	// is closed when the consumer is stopped.
	Messages() <-chan kafka.Message
	// CommitOffset acknowledges that msgs have been processed.
	CommitOffset(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher emits one outcome message per invocation.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// Archiver stores invocation reports.
type Archiver interface {
	StoreReport(ctx context.Context, bucket string, rep report.Report) (string, error)
}

// Config controls how messages are grouped.
type Config struct {
	// WindowSize is the number of messages written per invocation.
	WindowSize int
	// FlushInterval writes a partial window once no message arrived for
	// this long.
	FlushInterval time.Duration
	// BatchSize is the number of records per coordinated batch.
	BatchSize int
	// MaxBatches caps the batches, and so the open transactions, of one
	// invocation. When records would need more, the batch size grows. Set it
	// to the connection pool size; 0 means no cap.
	MaxBatches int
	// ReportBucket is where reports are archived when an Archiver is set.
	ReportBucket string
}

// Feed moves records from a MessageSource into a coordinated writer.
type Feed struct {
	src       MessageSource
	coord     *txcoord.Coordinator
	write     txcoord.BatchFunc[models.Record]
	cfg       Config
	publisher Publisher
	archiver  Archiver
	logger    zerolog.Logger
}

// Option configures a Feed.
type Option func(*Feed)

// WithPublisher publishes every invocation's report.
func WithPublisher(p Publisher) Option {
	return func(f *Feed) { f.publisher = p }
}

// WithArchiver archives every invocation's report.
func WithArchiver(a Archiver) Option {
	return func(f *Feed) { f.archiver = a }
}

// WithLogger sets the feed logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Feed) { f.logger = l }
}

// New returns a Feed that writes records with write.
func New(src MessageSource, coord *txcoord.Coordinator, write txcoord.BatchFunc[models.Record], cfg Config, opts ...Option) (*Feed, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("feed: window size must be positive, got %d", cfg.WindowSize)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("feed: %w: %d", txcoord.ErrInvalidBatchSize, cfg.BatchSize)
	}
	if cfg.MaxBatches < 0 {
		return nil, fmt.Errorf("feed: max batches must not be negative, got %d", cfg.MaxBatches)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	f := &Feed{
		src:    src,
		coord:  coord,
		write:  write,
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Run processes windows until the source closes, ctx is done, or a window
// fails. It returns nil when the source closes cleanly.
func (f *Feed) Run(ctx context.Context) error {
	idle := time.NewTimer(f.cfg.FlushInterval)
	defer idle.Stop()

	window := make([]kafka.Message, 0, f.cfg.WindowSize)
	for {
		select {
		case msg, ok := <-f.src.Messages():
			if !ok {
				return f.flush(ctx, window)
			}
			idle.Reset(f.cfg.FlushInterval)
			window = append(window, msg)
			if len(window) < f.cfg.WindowSize {
				continue
			}
		case <-idle.C:
			idle.Reset(f.cfg.FlushInterval)
			if len(window) == 0 {
				continue
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := f.flush(ctx, window); err != nil {
			return err
		}
		window = window[:0]
	}
}

// flush writes one window and commits its offsets on success.
func (f *Feed) flush(ctx context.Context, window []kafka.Message) error {
	if len(window) == 0 {
		return nil
	}

	recs := make([]models.Record, 0, len(window))
	for _, msg := range window {
		rec, err := records.DecodeOne(msg.Value)
		if err != nil {
			f.logger.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("skipping undecodable message")
			continue
		}
		recs = append(recs, rec)
	}

	if len(recs) > 0 {
		res, err := txcoord.ExecuteWithTransaction(ctx, f.coord, recs, f.batchSize(len(recs)), f.write)
		if err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		f.emit(ctx, report.FromResult(res, sourceOf(window)))
		if !res.Success {
			return fmt.Errorf("%w: %s: %w", ErrInvocationFailed, res.ID, res.Err())
		}
	}

	if err := f.src.CommitOffset(ctx, window...); err != nil {
		return fmt.Errorf("feed: commit offsets: %w", err)
	}
	return nil
}

// batchSize returns the configured batch size, grown so that n records fit
// in at most MaxBatches batches.
func (f *Feed) batchSize(n int) int {
	size := f.cfg.BatchSize
	if f.cfg.MaxBatches > 0 && n > size*f.cfg.MaxBatches {
		size = (n + f.cfg.MaxBatches - 1) / f.cfg.MaxBatches
	}
	return size
}

// emit publishes and archives rep. Failures here are logged and do not
// affect offset handling.
func (f *Feed) emit(ctx context.Context, rep report.Report) {
	if f.publisher != nil {
		data, err := rep.Marshal()
		if err == nil {
			err = f.publisher.Publish(ctx, rep.ID, data, map[string]string{"success": strconv.FormatBool(rep.Success)})
		}
		if err != nil {
			f.logger.Error().Err(err).Str("invocation", rep.ID).Msg("failed to publish outcome")
		}
	}
	if f.archiver != nil && f.cfg.ReportBucket != "" {
		if _, err := f.archiver.StoreReport(ctx, f.cfg.ReportBucket, rep); err != nil {
			f.logger.Error().Err(err).Str("invocation", rep.ID).Msg("failed to archive report")
		}
	}
}

func sourceOf(window []kafka.Message) string {
	first, last := window[0], window[len(window)-1]
	return fmt.Sprintf("kafka:%s/%d@%d-%d", first.Topic, first.Partition, first.Offset, last.Offset)
}
