package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"batchtx/internal/config"
	"batchtx/internal/logging"
	"batchtx/internal/metrics"
	"batchtx/internal/pgtx"
	"batchtx/internal/storage"
	"batchtx/pkg/txcoord"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	observer *metrics.Collector
}

// NewRootCommand creates the root command for the batchtx CLI.
func NewRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "batchtx",
		Short:         "All-or-nothing concurrent batch writes",
		Long:          "batchtx splits records into batches, writes every batch in its own transaction concurrently, and commits all of them or none.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, !cfg.LogJSON)
			a.registry = prometheus.NewRegistry()
			a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			a.observer = metrics.NewCollector(a.registry)
			return nil
		},
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newImportCommand(a))
	cmd.AddCommand(newConsumeCommand(a))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the batchtx version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}

// coordinator builds a Coordinator sharing the app's logger and metrics.
func (a *app) coordinator(txm txcoord.TxManager) *txcoord.Coordinator {
	return txcoord.New(txm,
		txcoord.WithBarrierTimeout(a.cfg.BarrierTimeout),
		txcoord.WithLogger(a.logger),
		txcoord.WithObserver(a.observer),
	)
}

// connect opens the Postgres pool. need is the number of connections one
// invocation will hold at once.
func (a *app) connect(ctx context.Context, need int) (*pgxpool.Pool, *pgtx.Manager, error) {
	url, err := config.MustGet(config.KeyDatabaseURL, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	maxConns := a.cfg.MaxConns
	if maxConns == 0 {
		maxConns = int32(need)
	}
	if int(maxConns) < need {
		a.logger.Warn().Int32("max_conns", maxConns).Int("batches", need).
			Msg("pool is smaller than the batch count; workers will time out at the barrier")
	}
	pool, err := pgtx.Connect(ctx, url, maxConns)
	if err != nil {
		return nil, nil, err
	}
	return pool, pgtx.NewManager(pool, pgx.TxOptions{}), nil
}

// storage returns the S3 service when configured, or nil.
func (a *app) storage() (*storage.S3Service, error) {
	if !a.cfg.StorageEnabled() {
		return nil, nil
	}
	return storage.NewS3Service(storage.Config{
		Endpoint:  a.cfg.MinioEndpoint,
		AccessKey: a.cfg.MinioAccessKey,
		SecretKey: a.cfg.MinioSecretKey,
		UseSSL:    a.cfg.MinioUseSSL,
		Region:    a.cfg.MinioRegion,
	}, a.logger)
}

// serveMetrics starts the metrics endpoint in the background when configured.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, a.cfg.MetricsAddr, a.registry, a.logger); err != nil {
			a.logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

func stdinOrFile(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}
