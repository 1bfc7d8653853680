package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"batchtx/internal/keys"
	"batchtx/internal/models"
	"batchtx/internal/records"
	"batchtx/internal/report"
)

// Config holds the connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// S3Service reads record files from and archives invocation reports to
// S3-compatible storage.
type S3Service struct {
	client *minio.Client
	logger zerolog.Logger
}

// NewS3Service connects to the endpoint in cfg.
func NewS3Service(cfg Config, logger zerolog.Logger) (*S3Service, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("storage: endpoint, access key and secret key are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create MinIO client: %w", err)
	}

	logger.Debug().Str("endpoint", cfg.Endpoint).Msg("MinIO client ready")
	return &S3Service{client: client, logger: logger}, nil
}

// CreateBucket makes sure bucketName exists.
func (s *S3Service) CreateBucket(ctx context.Context, bucketName string, location string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("storage: check bucket %q: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("storage: make bucket %q: %w", bucketName, err)
	}
	return nil
}

// StoreReport archives rep and returns its object key. A report that is
// already stored is left untouched.
func (s *S3Service) StoreReport(ctx context.Context, bucketName string, rep report.Report) (string, error) {
	objectKey := keys.Report(rep.ID, rep.Started)

	_, err := s.client.StatObject(ctx, bucketName, objectKey, minio.StatObjectOptions{})
	if err == nil {
		s.logger.Debug().Str("key", objectKey).Msg("report already archived")
		return objectKey, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("storage: stat %q: %w", objectKey, err)
	}

	data, err := rep.Marshal()
	if err != nil {
		return "", fmt.Errorf("storage: marshal report: %w", err)
	}

	_, err = s.client.PutObject(
		ctx,
		bucketName,
		objectKey,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return "", fmt.Errorf("storage: put %q: %w", objectKey, err)
	}

	s.logger.Info().Str("bucket", bucketName).Str("key", objectKey).Bool("success", rep.Success).Msg("report archived")
	return objectKey, nil
}

// GetReport loads an archived report.
func (s *S3Service) GetReport(ctx context.Context, bucketName, objectKey string) (report.Report, error) {
	object, err := s.client.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return report.Report{}, fmt.Errorf("storage: get %q: %w", objectKey, err)
	}
	defer object.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(object); err != nil {
		return report.Report{}, fmt.Errorf("storage: read %q: %w", objectKey, err)
	}
	return report.Unmarshal(buf.Bytes())
}

// LoadRecords streams a newline-delimited JSON object into records.
func (s *S3Service) LoadRecords(ctx context.Context, bucketName, objectKey string) ([]models.Record, error) {
	object, err := s.client.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", objectKey, err)
	}
	defer object.Close()

	recs, err := records.Decode(object)
	if err != nil {
		return nil, fmt.Errorf("storage: %s/%s: %w", bucketName, objectKey, err)
	}
	s.logger.Debug().Str("bucket", bucketName).Str("key", objectKey).Int("records", len(recs)).Msg("records loaded")
	return recs, nil
}
