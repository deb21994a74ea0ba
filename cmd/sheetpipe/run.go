package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/sheetpipe/internal/acquire"
	"github.com/rpattn/sheetpipe/internal/bulkload"
	"github.com/rpattn/sheetpipe/internal/config"
	"github.com/rpattn/sheetpipe/internal/db"
	"github.com/rpattn/sheetpipe/internal/dedup"
	"github.com/rpattn/sheetpipe/internal/ingestion"
	"github.com/rpattn/sheetpipe/internal/metrics"
	"github.com/rpattn/sheetpipe/internal/middleware"
	"github.com/rpattn/sheetpipe/internal/poller"
	"github.com/rpattn/sheetpipe/internal/processing"
	"github.com/rpattn/sheetpipe/internal/repository"
	"github.com/rpattn/sheetpipe/internal/transformations"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// run opens the worker's resources, drives the selected flow until ctx is
// cancelled and releases everything on the way out.
func run(ctx context.Context, cfg config.Config, flow string, logger *zap.Logger) error {
	if cfg.Migrations.Auto {
		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			return err
		}
	}

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	health := []metrics.HealthCheck{conn.Ping}

	var cycle poller.Cycle
	switch flow {
	case flowImport:
		service, err := newImportService(ctx, cfg, conn, logger, m)
		if err != nil {
			return err
		}
		cycle = service.ImportPending
	case flowProcess:
		client, err := dedup.NewRedisClient(ctx, dedup.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}()
		health = append(health, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})

		service := newProcessService(cfg, conn, dedup.NewRedisStore(client), logger, m)
		cycle = service.ProcessPending
	default:
		return withCode(exitConfig, fmt.Errorf("unknown flow %q", flow))
	}

	loop := poller.New(flow, cycle,
		poller.WithIdleInterval(cfg.Pipeline.IdleInterval),
		poller.WithErrorBackoff(cfg.Pipeline.ErrorBackoff),
		poller.WithLogger(logger),
		poller.WithMetrics(m),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return loop.Run(groupCtx)
	})
	if cfg.Metrics.Addr != "" {
		group.Go(func() error {
			return metrics.Serve(groupCtx, cfg.Metrics.Addr, middleware.Logging(logger, metrics.Handler(registry, allHealthy(health))), logger)
		})
	}
	return group.Wait()
}

func newImportService(ctx context.Context, cfg config.Config, conn *db.Connection, logger *zap.Logger, m *metrics.Metrics) (*ingestion.Service, error) {
	s3Client, err := acquire.NewS3Client(ctx, cfg.S3.Region, cfg.S3.Endpoint)
	if err != nil {
		return nil, err
	}
	acquirer, err := acquire.New(
		acquire.WithTempDir(cfg.Acquire.TempDir),
		acquire.WithBaseURL(cfg.Acquire.BaseURL),
		acquire.WithHTTPTimeout(cfg.Acquire.HTTPTimeout),
		acquire.WithMaxBytes(cfg.Acquire.MaxBytes),
		acquire.WithS3(s3Client),
		acquire.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	loader := bulkload.NewLoader(repository.NewRowRepository(conn),
		bulkload.WithChunkSize(cfg.Pipeline.InsertChunkSize),
		bulkload.WithStagingDir(cfg.Bulk.StagingDir),
		bulkload.WithNative(cfg.Bulk.NativeEnabled),
		bulkload.WithLogger(logger),
		bulkload.WithMetrics(m),
	)

	return ingestion.NewService(
		repository.NewUploadRepository(conn),
		acquirer,
		ingestion.NewParser(cfg.Pipeline.ParseChunkSize, logger),
		loader,
		ingestion.WithBatchSize(cfg.Pipeline.BatchSize),
		ingestion.WithLogger(logger),
		ingestion.WithMetrics(m),
	), nil
}

func newProcessService(cfg config.Config, conn *db.Connection, store dedup.Store, logger *zap.Logger, m *metrics.Metrics) *processing.Service {
	gate := dedup.NewGate(store,
		dedup.WithTTL(cfg.Pipeline.DuplicateTTL),
		dedup.WithAtomic(cfg.Pipeline.DedupAtomic),
	)

	transforms := transformations.Builtin()
	logger.Info("registered transforms", zap.Strings("types", transforms.Types()))

	return processing.NewService(
		repository.NewRowRepository(conn),
		gate,
		transforms,
		processing.WithBatchSize(cfg.Pipeline.RowBatchSize),
		processing.WithLogger(logger),
		processing.WithMetrics(m),
	)
}

func allHealthy(checks []metrics.HealthCheck) metrics.HealthCheck {
	return func(ctx context.Context) error {
		var errs []error
		for _, check := range checks {
			errs = append(errs, check(ctx))
		}
		return errors.Join(errs...)
	}
}
