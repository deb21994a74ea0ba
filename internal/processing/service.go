package processing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/sheetpipe/internal/domain"
	"github.com/rpattn/sheetpipe/internal/metrics"
	"github.com/rpattn/sheetpipe/internal/repository"
	"github.com/rpattn/sheetpipe/internal/transformations"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DuplicateReason is stored on rows rejected by the dedup gate.
const DuplicateReason = "duplicate row"

// DefaultBatchSize is the number of rows selected per cycle when none is configured.
const DefaultBatchSize = 100

// Row outcomes reported to metrics.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
)

// Gate is the dedup capability the pipeline needs.
type Gate interface {
	CheckAndMark(ctx context.Context, payload domain.Payload) (bool, error)
	Forget(ctx context.Context, payload domain.Payload) error
}

// Service advances pending rows to processed or error.
type Service struct {
	rows      repository.RowRepository
	gate      Gate
	registry  *transformations.Registry
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithBatchSize caps how many rows one cycle selects.
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

// WithMetrics records row outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService wires the processing pipeline. The registry is read, never modified.
func NewService(rows repository.RowRepository, gate Gate, registry *transformations.Registry, opts ...Option) *Service {
	s := &Service{
		rows:      rows,
		gate:      gate,
		registry:  registry,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type uploadGroup struct {
	uploadID uuid.UUID
	typeTag  string
	rows     []domain.PendingRow
}

// ProcessPending handles one batch of pending rows. Row failures are
// recorded on the row; the returned error reports store failures that left
// rows pending.
func (s *Service) ProcessPending(ctx context.Context) (domain.BatchResult, error) {
	pending, err := s.rows.ListPending(ctx, s.batchSize)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("failed to select pending rows: %w", err)
	}
	if len(pending) == 0 {
		s.logger.Debug("no pending rows to process")
		return domain.BatchResult{}, nil
	}
	s.logger.Info("found pending rows", zap.Int("rows", len(pending)))

	// Rows in flight finish even if ctx is cancelled mid-row.
	work := context.WithoutCancel(ctx)

	var (
		processed int
		attempted int
		storeErrs []error
	)
	for _, group := range groupByUpload(pending) {
		transform, resolved, resolveErr := s.registry.Resolve(group.typeTag)
		switch {
		case resolveErr != nil:
			s.logger.Error("no transform for upload type",
				zap.String("upload_id", group.uploadID.String()),
				zap.String("type", group.typeTag),
				zap.Error(resolveErr),
			)
		case resolved != group.typeTag:
			s.logger.Warn("no transform registered for type, using default",
				zap.String("upload_id", group.uploadID.String()),
				zap.String("type", group.typeTag),
			)
		}

		for _, row := range group.rows {
			if ctx.Err() != nil {
				s.logger.Info("stopping row batch", zap.Int("processed", processed), zap.Int("remaining", len(pending)-attempted))
				return domain.BatchResult{Selected: len(pending), Succeeded: processed}, errors.Join(storeErrs...)
			}
			attempted++

			outcome, err := s.processRow(work, row, transform, resolveErr)
			s.metrics.ObserveRow(group.typeTag, outcome)
			if err != nil {
				storeErrs = append(storeErrs, err)
				continue
			}
			if outcome == outcomeProcessed {
				processed++
			}
		}
	}

	s.logger.Info("processing batch complete",
		zap.Int("processed", processed),
		zap.Int("rows", len(pending)),
	)
	return domain.BatchResult{Selected: len(pending), Succeeded: processed}, errors.Join(storeErrs...)
}

// processRow takes one row to a terminal status. It only returns an error
// when that status could not be stored.
func (s *Service) processRow(ctx context.Context, row domain.PendingRow, transform transformations.Transform, resolveErr error) (string, error) {
	logger := s.logger.With(
		zap.String("row_id", row.ID.String()),
		zap.String("upload_id", row.UploadID.String()),
		zap.String("sheet", row.SheetName),
		zap.Int("row_index", row.RowIndex),
	)

	payload, err := domain.ParsePayload(row.RawPayload)
	if err != nil {
		return s.fail(ctx, logger, row, fmt.Errorf("invalid payload: %w", err))
	}
	if resolveErr != nil {
		return s.fail(ctx, logger, row, resolveErr)
	}

	isNew, err := s.gate.CheckAndMark(ctx, payload)
	if err != nil {
		return s.fail(ctx, logger, row, fmt.Errorf("dedup check: %w", err))
	}
	if !isNew {
		logger.Info("row is duplicate, skipping")
		if err := s.rows.MarkError(ctx, row.ID, DuplicateReason); err != nil {
			logger.Error("failed to mark duplicate row", zap.Error(err))
			return outcomeError, err
		}
		return outcomeDuplicate, nil
	}

	transformed, err := transform.Transform(payload.Clone())
	if err != nil {
		return s.fail(ctx, logger, row, fmt.Errorf("transform: %w", err))
	}

	if err := s.rows.MarkProcessed(ctx, row.ID, transformed); err != nil {
		logger.Error("failed to store processed row", zap.Error(err))
		// The row stays pending; release its fingerprint so the retry is not
		// reported as a duplicate of itself.
		if forgetErr := s.gate.Forget(ctx, payload); forgetErr != nil {
			logger.Warn("failed to release fingerprint", zap.Error(forgetErr))
		}
		return outcomeError, err
	}

	logger.Debug("row processed")
	return outcomeProcessed, nil
}

func (s *Service) fail(ctx context.Context, logger *zap.Logger, row domain.PendingRow, cause error) (string, error) {
	logger.Error("row failed", zap.Error(cause))
	if err := s.rows.MarkError(ctx, row.ID, domain.ErrorMessage(cause)); err != nil {
		logger.Error("failed to mark row as error", zap.Error(err))
		return outcomeError, err
	}
	return outcomeError, nil
}

// groupByUpload keeps selection order, both across and within uploads.
func groupByUpload(rows []domain.PendingRow) []*uploadGroup {
	var groups []*uploadGroup
	index := make(map[uuid.UUID]*uploadGroup)
	for _, row := range rows {
		group, ok := index[row.UploadID]
		if !ok {
			group = &uploadGroup{uploadID: row.UploadID, typeTag: row.TypeTag()}
			index[row.UploadID] = group
			groups = append(groups, group)
		}
		group.rows = append(group.rows, row)
	}
	return groups
}
