package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/sheetpipe/internal/acquire"
	"github.com/rpattn/sheetpipe/internal/domain"
	"github.com/rpattn/sheetpipe/internal/metrics"
	"github.com/rpattn/sheetpipe/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoData is recorded on jobs whose workbook holds no data rows.
var ErrNoData = errors.New("no data found in workbook")

// DefaultBatchSize is the number of jobs selected per cycle when none is configured.
const DefaultBatchSize = 10

// Acquirer produces a local working copy of a job's source file.
type Acquirer interface {
	Acquire(ctx context.Context, ref string) (*acquire.File, error)
}

// RowLoader persists parsed rows for a job.
type RowLoader interface {
	Load(ctx context.Context, uploadID uuid.UUID, rows []domain.RowRecord) (int64, error)
}

// Service imports pending upload jobs into row records.
type Service struct {
	uploads   repository.UploadRepository
	acquirer  Acquirer
	parser    *Parser
	loader    RowLoader
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithBatchSize caps how many jobs one cycle selects.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records job outcomes and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService wires the import pipeline.
func NewService(
	uploads repository.UploadRepository,
	acquirer Acquirer,
	parser *Parser,
	loader RowLoader,
	opts ...Option,
) *Service {
	service := &Service{
		uploads:   uploads,
		acquirer:  acquirer,
		parser:    parser,
		loader:    loader,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.parser == nil {
		service.parser = NewParser(DefaultParseChunkSize, service.logger)
	}
	return service
}

// ImportPending imports one batch of pending jobs. Job failures are recorded
// on the job; the returned error reports store failures only.
func (s *Service) ImportPending(ctx context.Context) (domain.BatchResult, error) {
	jobs, err := s.uploads.ListPending(ctx, s.batchSize)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("failed to select pending uploads: %w", err)
	}
	if len(jobs) == 0 {
		s.logger.Debug("no pending uploads to import")
		return domain.BatchResult{}, nil
	}
	s.logger.Info("found pending uploads", zap.Int("jobs", len(jobs)))

	// A job that has started runs to a terminal status even if ctx is cancelled.
	work := context.WithoutCancel(ctx)

	var (
		imported  int
		storeErrs []error
	)
	for i, job := range jobs {
		if ctx.Err() != nil {
			s.logger.Info("stopping import batch", zap.Int("imported", imported), zap.Int("remaining", len(jobs)-i))
			break
		}
		ok, err := s.ImportJob(work, job)
		if err != nil {
			storeErrs = append(storeErrs, err)
		}
		if ok {
			imported++
		}
	}

	s.logger.Info("import batch complete", zap.Int("imported", imported), zap.Int("jobs", len(jobs)))
	return domain.BatchResult{Selected: len(jobs), Succeeded: imported}, errors.Join(storeErrs...)
}

// ImportJob takes one job to imported or error. It reports whether the job
// was imported; the error is non-nil only when the outcome could not be stored.
func (s *Service) ImportJob(ctx context.Context, job domain.UploadJob) (bool, error) {
	started := s.now()
	logger := s.logger.With(zap.String("upload_id", job.ID.String()), zap.String("path", job.Path))
	logger.Info("starting import")

	total, cause := s.importFile(ctx, logger, job)
	if cause != nil {
		s.metrics.ObserveJob(string(domain.UploadStatusError), s.now().Sub(started))
		return false, s.failJob(ctx, logger, job.ID, cause)
	}

	if err := s.uploads.MarkImported(ctx, job.ID, total); err != nil {
		s.metrics.ObserveJob(string(domain.UploadStatusError), s.now().Sub(started))
		return false, errors.Join(
			fmt.Errorf("mark upload %s imported: %w", job.ID, err),
			s.failJob(ctx, logger, job.ID, fmt.Errorf("record import: %w", err)),
		)
	}

	elapsed := s.now().Sub(started)
	s.metrics.ObserveJob(string(domain.UploadStatusImported), elapsed)
	logger.Info("upload imported", zap.Int("rows", total), zap.Duration("elapsed", elapsed))
	return true, nil
}

// importFile acquires, parses and loads the job's file. The working copy is
// removed before it returns.
func (s *Service) importFile(ctx context.Context, logger *zap.Logger, job domain.UploadJob) (int, error) {
	file, err := s.acquirer.Acquire(ctx, job.Path)
	if err != nil {
		return 0, fmt.Errorf("acquire file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Warn("failed to clean up working copy", zap.Error(closeErr))
		}
	}()

	records, err := s.parser.ParseFile(file.Path)
	if err != nil {
		return 0, fmt.Errorf("parse workbook: %w", err)
	}
	if len(records) == 0 {
		return 0, ErrNoData
	}
	logger.Info("parsed upload", zap.Int("rows", len(records)))

	for i := range records {
		records[i].UploadID = job.ID
	}
	if _, err := s.loader.Load(ctx, job.ID, records); err != nil {
		return 0, fmt.Errorf("bulk load: %w", err)
	}
	return len(records), nil
}

func (s *Service) failJob(ctx context.Context, logger *zap.Logger, id uuid.UUID, cause error) error {
	message := domain.ErrorMessage(cause)
	logger.Error("upload failed", zap.Error(cause))
	if err := s.uploads.UpdateStatus(ctx, id, domain.UploadStatusError, &message); err != nil {
		logger.Error("failed to mark upload as error", zap.Error(err), zap.NamedError("cause", cause))
		return fmt.Errorf("mark upload %s error: %w", id, err)
	}
	return nil
}
