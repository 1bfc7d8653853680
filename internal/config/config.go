// Package config loads batchtx settings from a .env file, BATCHTX_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"batchtx/pkg/txcoord"
)

const envPrefix = "BATCHTX"

// Keys shared by flags, environment variables and viper lookups.
const (
	KeyBatchSize         = "batch-size"
	KeyBarrierTimeout    = "barrier-timeout"
	KeyDatabaseURL       = "database-url"
	KeyMaxConns          = "max-conns"
	KeyKafkaBrokers      = "kafka-brokers"
	KeyKafkaTopic        = "kafka-topic"
	KeyKafkaGroupID      = "kafka-group-id"
	KeyKafkaOutcomeTopic = "kafka-outcome-topic"
	KeyWindowSize        = "window-size"
	KeyFlushInterval     = "flush-interval"
	KeyMinioEndpoint     = "minio-endpoint"
	KeyMinioAccessKey    = "minio-access-key"
	KeyMinioSecretKey    = "minio-secret-key"
	KeyMinioUseSSL       = "minio-use-ssl"
	KeyMinioRegion       = "minio-region"
	KeyReportBucket      = "report-bucket"
	KeyLogLevel          = "log-level"
	KeyLogJSON           = "log-json"
	KeyMetricsAddr       = "metrics-addr"
)

// Config is the resolved configuration.
type Config struct {
	BatchSize      int
	BarrierTimeout time.Duration
	DatabaseURL    string
	MaxConns       int32

	KafkaBrokers      []string
	KafkaTopic        string
	KafkaGroupID      string
	KafkaOutcomeTopic string
	WindowSize        int
	FlushInterval     time.Duration

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string
	ReportBucket   string

	LogLevel    string
	LogJSON     bool
	MetricsAddr string
}

// RegisterFlags adds every setting to flags with its default.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.Int(KeyBatchSize, 100, "items per batch")
	flags.Duration(KeyBarrierTimeout, txcoord.DefaultBarrierTimeout, "how long each worker waits for its siblings")
	flags.String(KeyDatabaseURL, "", "PostgreSQL connection URL")
	flags.Int32(KeyMaxConns, 0, "PostgreSQL pool size (0 sizes it to the batch count)")
	flags.StringSlice(KeyKafkaBrokers, []string{"localhost:9092"}, "Kafka brokers")
	flags.String(KeyKafkaTopic, "", "Kafka topic carrying records")
	flags.String(KeyKafkaGroupID, "batchtx", "Kafka consumer group")
	flags.String(KeyKafkaOutcomeTopic, "", "Kafka topic for invocation outcomes")
	flags.Int(KeyWindowSize, 1000, "Kafka messages written per invocation")
	flags.Duration(KeyFlushInterval, time.Second, "flush a partial Kafka window once no message arrived for this long")
	flags.String(KeyMinioEndpoint, "", "S3/MinIO endpoint (host:port)")
	flags.String(KeyMinioAccessKey, "", "S3/MinIO access key")
	flags.String(KeyMinioSecretKey, "", "S3/MinIO secret key")
	flags.Bool(KeyMinioUseSSL, false, "use TLS for S3/MinIO")
	flags.String(KeyMinioRegion, "us-east-1", "S3/MinIO region")
	flags.String(KeyReportBucket, "", "bucket for invocation reports")
	flags.String(KeyLogLevel, "info", "log level")
	flags.Bool(KeyLogJSON, false, "log JSON instead of console output")
	flags.String(KeyMetricsAddr, "", "address to serve Prometheus metrics on")
}

// Load resolves the configuration for flags. A missing .env file is not an error.
func Load(flags *pflag.FlagSet, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	cfg := &Config{
		BatchSize:         v.GetInt(KeyBatchSize),
		BarrierTimeout:    v.GetDuration(KeyBarrierTimeout),
		DatabaseURL:       v.GetString(KeyDatabaseURL),
		MaxConns:          v.GetInt32(KeyMaxConns),
		KafkaBrokers:      splitList(v.GetStringSlice(KeyKafkaBrokers)),
		KafkaTopic:        v.GetString(KeyKafkaTopic),
		KafkaGroupID:      v.GetString(KeyKafkaGroupID),
		KafkaOutcomeTopic: v.GetString(KeyKafkaOutcomeTopic),
		WindowSize:        v.GetInt(KeyWindowSize),
		FlushInterval:     v.GetDuration(KeyFlushInterval),
		MinioEndpoint:     v.GetString(KeyMinioEndpoint),
		MinioAccessKey:    v.GetString(KeyMinioAccessKey),
		MinioSecretKey:    v.GetString(KeyMinioSecretKey),
		MinioUseSSL:       v.GetBool(KeyMinioUseSSL),
		MinioRegion:       v.GetString(KeyMinioRegion),
		ReportBucket:      v.GetString(KeyReportBucket),
		LogLevel:          v.GetString(KeyLogLevel),
		LogJSON:           v.GetBool(KeyLogJSON),
		MetricsAddr:       v.GetString(KeyMetricsAddr),
	}
	return cfg, cfg.Validate()
}

// Validate checks the coordinator settings.
func (c *Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyBatchSize, c.BatchSize))
	}
	if c.BarrierTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyBarrierTimeout, c.BarrierTimeout))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyWindowSize, c.WindowSize))
	}
	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyMaxConns, c.MaxConns))
	}
	return errors.Join(errs...)
}

// StorageEnabled reports whether S3/MinIO settings are present.
func (c *Config) StorageEnabled() bool {
	return c.MinioEndpoint != "" && c.MinioAccessKey != "" && c.MinioSecretKey != ""
}

// MustGet returns a required string setting or an error naming it.
func MustGet(name, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("config: %s is required (flag --%s or env %s_%s)",
			name, name, envPrefix, strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	}
	return value, nil
}

// splitList accepts both repeated values and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
