package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"batchtx/internal/config"
	"batchtx/internal/feed"
	"batchtx/internal/records"
	"batchtx/pkg/graceful"
	"batchtx/pkg/kafkaclient"
)

func newConsumeCommand(a *app) *cobra.Command {
	var (
		createTable  bool
		objectEvents bool
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Write records from a Kafka topic, one coordinated invocation per window",
		Example: `  batchtx consume --kafka-brokers localhost:9092 --kafka-topic records \
    --kafka-group-id batchtx --window-size 1000 --batch-size 100 \
    --database-url postgres://localhost/app --kafka-outcome-topic records.outcome`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.KafkaBrokers) == 0 {
				return errors.New("consume requires --" + config.KeyKafkaBrokers)
			}
			topic, err := config.MustGet(config.KeyKafkaTopic, a.cfg.KafkaTopic)
			if err != nil {
				return err
			}
			group, err := config.MustGet(config.KeyKafkaGroupID, a.cfg.KafkaGroupID)
			if err != nil {
				return err
			}

			ctx, cancel := graceful.Context(cmd.Context(), a.logger)
			defer cancel()
			a.serveMetrics(ctx)

			need := (a.cfg.WindowSize + a.cfg.BatchSize - 1) / a.cfg.BatchSize
			pool, txm, err := a.connect(ctx, need)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := records.NewRepository(pool)
			if createTable {
				if err := repo.EnsureSchema(ctx); err != nil {
					return err
				}
			}

			opts := []feed.Option{feed.WithLogger(a.logger)}
			if a.cfg.KafkaOutcomeTopic != "" {
				pub := kafkaclient.NewPublisher(a.cfg.KafkaBrokers, a.cfg.KafkaOutcomeTopic, a.logger)
				defer pub.Close()
				opts = append(opts, feed.WithPublisher(pub))
			}
			svc, err := a.storage()
			if err != nil {
				return err
			}
			if svc != nil && a.cfg.ReportBucket != "" {
				if err := svc.CreateBucket(ctx, a.cfg.ReportBucket, a.cfg.MinioRegion); err != nil {
					return err
				}
				opts = append(opts, feed.WithArchiver(svc))
			}
			if objectEvents && svc == nil {
				return errors.New("--object-events requires minio-endpoint, minio-access-key and minio-secret-key")
			}

			fcfg := feed.Config{
				WindowSize:    a.cfg.WindowSize,
				FlushInterval: a.cfg.FlushInterval,
				BatchSize:     a.cfg.BatchSize,
				MaxBatches:    int(pool.Config().MaxConns),
				ReportBucket:  a.cfg.ReportBucket,
			}
			consumer := kafkaclient.NewKafkaConsumer(a.cfg.KafkaBrokers, topic, group, a.logger)

			var run func(context.Context) error
			if objectEvents {
				of, err := feed.NewObjectFeed(consumer, a.coordinator(txm), svc.LoadRecords, repo.InsertBatch, fcfg, opts...)
				if err != nil {
					return err
				}
				run = of.Run
			} else {
				f, err := feed.New(consumer, a.coordinator(txm), repo.InsertBatch, fcfg, opts...)
				if err != nil {
					return err
				}
				run = f.Run
			}

			consumer.StartConsuming(ctx)
			defer consumer.Stop()

			a.logger.Info().Str("topic", topic).Str("group", group).Bool("object_events", objectEvents).Msg("consuming")
			err = run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&objectEvents, "object-events", false, "treat messages as S3/MinIO bucket notifications and import each object")
	cmd.Flags().BoolVar(&createTable, "create-table", false, "create the records table if missing")

	return cmd
}
