package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"batchtx/internal/models"
	"batchtx/internal/report"
	"batchtx/pkg/txcoord"
)

// LoaderFunc loads the records stored in one object.
type LoaderFunc func(ctx context.Context, bucket, key string) ([]models.Record, error)

// ObjectFeed consumes MinIO/S3 bucket notifications and imports every
// referenced object with one coordinated invocation. The offset of a
// notification is committed only after its object was written.
type ObjectFeed struct {
	*Feed
	load LoaderFunc
}

// NewObjectFeed returns an ObjectFeed. Options are shared with Feed.
func NewObjectFeed(src MessageSource, coord *txcoord.Coordinator, load LoaderFunc, write txcoord.BatchFunc[models.Record], cfg Config, opts ...Option) (*ObjectFeed, error) {
	cfg.WindowSize = 1
	f, err := New(src, coord, write, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &ObjectFeed{Feed: f, load: load}, nil
}

// Run processes notifications until the source closes, ctx is done, or an
// object fails to import.
func (o *ObjectFeed) Run(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-o.src.Messages():
			if !ok {
				return nil
			}
			if err := o.handle(ctx, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *ObjectFeed) handle(ctx context.Context, msg kafka.Message) error {
	logger := o.logger.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	objects, err := objectsOf(msg.Value)
	if err != nil {
		logger.Warn().Err(err).Msg("skipping unreadable notification")
		return o.commit(ctx, msg)
	}

	for _, obj := range objects {
		if err := o.importObject(ctx, logger, obj.bucket, obj.key); err != nil {
			return err
		}
	}
	return o.commit(ctx, msg)
}

func (o *ObjectFeed) importObject(ctx context.Context, logger zerolog.Logger, bucket, key string) error {
	recs, err := o.load(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("feed: load %s/%s: %w", bucket, key, err)
	}
	if len(recs) == 0 {
		logger.Info().Str("bucket", bucket).Str("key", key).Msg("object holds no records")
		return nil
	}

	size := o.batchSize(len(recs))
	if size != o.cfg.BatchSize {
		logger.Info().Str("key", key).Int("records", len(recs)).Int("batch_size", size).Msg("object exceeds max batches; using larger batches")
	}
	res, err := txcoord.ExecuteWithTransaction(ctx, o.coord, recs, size, o.write)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	o.emit(ctx, report.FromResult(res, "s3:"+bucket+"/"+key))
	if !res.Success {
		return fmt.Errorf("%w: %s: %w", ErrInvocationFailed, res.ID, res.Err())
	}
	return nil
}

func (o *ObjectFeed) commit(ctx context.Context, msg kafka.Message) error {
	if err := o.src.CommitOffset(ctx, msg); err != nil {
		return fmt.Errorf("feed: commit offset: %w", err)
	}
	return nil
}

type objectRef struct {
	bucket, key string
}

// objectsOf extracts the objects named by a bucket notification. Keys arrive
// URL-encoded.
func objectsOf(value []byte) ([]objectRef, error) {
	var info notification.Info
	if err := json.Unmarshal(value, &info); err != nil {
		return nil, err
	}
	if len(info.Records) == 0 {
		return nil, errors.New("notification carries no records")
	}
	refs := make([]objectRef, 0, len(info.Records))
	for _, ev := range info.Records {
		key, err := url.QueryUnescape(ev.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("decode object key %q: %w", ev.S3.Object.Key, err)
		}
		refs = append(refs, objectRef{bucket: ev.S3.Bucket.Name, key: key})
	}
	return refs, nil
}
