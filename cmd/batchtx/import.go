package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"batchtx/internal/models"
	"batchtx/internal/records"
	"batchtx/internal/report"
	"batchtx/internal/sqltx"
	"batchtx/pkg/graceful"
	"batchtx/pkg/txcoord"
)

type importOptions struct {
	file        string
	s3          string
	incremental bool
	dryRun      bool
	createTable bool
	sqlite      string
}

func newImportCommand(a *app) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Write a file of records to PostgreSQL, all or nothing",
		Example: `  # Import a JSON-lines file in batches of 500
  batchtx import --file records.jsonl --batch-size 500 --database-url postgres://localhost/app

  # Import an object from S3/MinIO, one participant per record
  batchtx import --s3 inbox/records.jsonl --incremental

  # Validate a file concurrently without touching the database
  batchtx import --file records.jsonl --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (opts.file == "") == (opts.s3 == "") {
				return errors.New("exactly one of --file or --s3 is required")
			}
			ctx, cancel := graceful.Context(cmd.Context(), a.logger)
			defer cancel()
			a.serveMetrics(ctx)
			return runImport(ctx, cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "JSON-lines file to import (- for stdin)")
	cmd.Flags().StringVar(&opts.s3, "s3", "", "bucket/key of a JSON-lines object to import")
	cmd.Flags().BoolVar(&opts.incremental, "incremental", false, "submit every record as its own participant")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "validate batches concurrently without a database")
	cmd.Flags().StringVar(&opts.sqlite, "sqlite", "", "write to this SQLite database instead of PostgreSQL (one batch)")
	cmd.Flags().BoolVar(&opts.createTable, "create-table", false, "create the records table if missing")

	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, a *app, opts *importOptions) error {
	recs, source, err := loadRecords(ctx, a, opts)
	if err != nil {
		return err
	}
	a.logger.Info().Str("source", source).Int("records", len(recs)).Msg("records loaded")

	var res *txcoord.Result
	switch {
	case opts.dryRun:
		res, err = txcoord.Execute(ctx, a.coordinator(nil), recs, a.cfg.BatchSize, validateBatch)
	case opts.sqlite != "":
		res, err = writeSQLite(ctx, a, opts, recs)
	default:
		res, err = writeRecords(ctx, a, opts, recs)
	}
	if err != nil {
		return err
	}

	rep := report.FromResult(res, source)
	if err := archive(ctx, a, rep); err != nil {
		a.logger.Error().Err(err).Str("invocation", rep.ID).Msg("failed to archive report")
	}
	printSummary(cmd, rep)

	if !res.Success {
		return fmt.Errorf("import %s failed: %w", res.ID, res.Err())
	}
	return nil
}

func loadRecords(ctx context.Context, a *app, opts *importOptions) ([]models.Record, string, error) {
	if opts.s3 != "" {
		bucket, key, ok := strings.Cut(opts.s3, "/")
		if !ok || bucket == "" || key == "" {
			return nil, "", fmt.Errorf("--s3 must be bucket/key, got %q", opts.s3)
		}
		svc, err := a.storage()
		if err != nil {
			return nil, "", err
		}
		if svc == nil {
			return nil, "", errors.New("--s3 requires minio-endpoint, minio-access-key and minio-secret-key")
		}
		recs, err := svc.LoadRecords(ctx, bucket, key)
		return recs, "s3:" + opts.s3, err
	}

	f, err := stdinOrFile(opts.file)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	recs, err := records.Decode(f)
	return recs, "file:" + opts.file, err
}

func writeRecords(ctx context.Context, a *app, opts *importOptions, recs []models.Record) (*txcoord.Result, error) {
	need := (len(recs) + a.cfg.BatchSize - 1) / a.cfg.BatchSize
	if opts.incremental {
		need = len(recs)
	}
	pool, txm, err := a.connect(ctx, max(need, 1))
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	repo := records.NewRepository(pool)
	if opts.createTable {
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	c := a.coordinator(txm)
	if !opts.incremental {
		return txcoord.ExecuteWithTransaction(ctx, c, recs, a.cfg.BatchSize, repo.InsertBatch)
	}

	s, err := txcoord.NewSession(c, len(recs), repo.InsertBatch)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := s.Submit(ctx, rec); err != nil {
			break
		}
	}
	return s.Sync(), nil
}

// writeSQLite writes recs as one batch. SQLite has a single writer, so
// concurrent batches would block each other until the barrier times out.
func writeSQLite(ctx context.Context, a *app, opts *importOptions, recs []models.Record) (*txcoord.Result, error) {
	if opts.incremental {
		return nil, errors.New("--incremental is not supported with --sqlite")
	}
	db, err := records.OpenSQLite(opts.sqlite)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	repo := records.NewSQLiteRepository(db)
	if opts.createTable {
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	if len(recs) > a.cfg.BatchSize {
		a.logger.Warn().Int("batch_size", a.cfg.BatchSize).Int("records", len(recs)).Msg("sqlite target: writing all records as one batch")
	}
	return txcoord.ExecuteWithTransaction(ctx, a.coordinator(sqltx.NewManager(db, nil)), recs, max(len(recs), 1), repo.InsertBatch)
}

// validateBatch checks records without writing them.
func validateBatch(_ context.Context, batch []models.Record) error {
	seen := make(map[string]struct{}, len(batch))
	for _, rec := range batch {
		if err := rec.Validate(); err != nil {
			return err
		}
		if _, dup := seen[rec.Key]; dup {
			return fmt.Errorf("duplicate key %q within batch", rec.Key)
		}
		seen[rec.Key] = struct{}{}
	}
	return nil
}

func archive(ctx context.Context, a *app, rep report.Report) error {
	if a.cfg.ReportBucket == "" {
		return nil
	}
	svc, err := a.storage()
	if err != nil || svc == nil {
		return err
	}
	if err := svc.CreateBucket(ctx, a.cfg.ReportBucket, a.cfg.MinioRegion); err != nil {
		return err
	}
	_, err = svc.StoreReport(ctx, a.cfg.ReportBucket, rep)
	return err
}

func printSummary(cmd *cobra.Command, rep report.Report) {
	status := "committed"
	if !rep.Success {
		status = "rolled back"
	}
	if rep.Mode == txcoord.ModePlain.String() {
		status = "validated"
		if !rep.Success {
			status = "invalid"
		}
	}
	cmd.Printf("%s: %s records in %s batches %s (%s ms)\n",
		rep.ID,
		humanize.Comma(int64(rep.Items)),
		humanize.Comma(int64(len(rep.Batches))),
		status,
		humanize.Comma(rep.ElapsedMS),
	)
	for _, f := range rep.Failures {
		cmd.Printf("  batch %d: %s: %s\n", f.Batch, f.Kind, f.Error)
	}
}
