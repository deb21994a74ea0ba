package bulkload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rpattn/sheetpipe/internal/domain"
	"github.com/rpattn/sheetpipe/internal/metrics"
	"github.com/rpattn/sheetpipe/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultChunkSize is the number of rows written per chunk when none is configured.
const DefaultChunkSize = 50000

// ErrNativeUnavailable is returned by the native path when it is disabled.
var ErrNativeUnavailable = errors.New("native bulk load unavailable")

// Loader persists parsed rows as pending row records.
type Loader struct {
	store         repository.BulkRowWriter
	chunkSize     int
	stagingDir    string
	nativeEnabled bool
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// Option configures a Loader.
type Option func(*Loader)

// WithChunkSize sets how many rows are written per chunk.
func WithChunkSize(size int) Option {
	return func(l *Loader) {
		if size > 0 {
			l.chunkSize = size
		}
	}
}

// WithStagingDir sets where staging files are created.
func WithStagingDir(dir string) Option {
	return func(l *Loader) {
		l.stagingDir = dir
	}
}

// WithNative toggles the staged native path. When off every chunk goes
// through batched inserts.
func WithNative(enabled bool) Option {
	return func(l *Loader) {
		l.nativeEnabled = enabled
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records written rows by path.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// NewLoader constructs a loader writing through store.
func NewLoader(store repository.BulkRowWriter, opts ...Option) *Loader {
	l := &Loader{
		store:         store,
		chunkSize:     DefaultChunkSize,
		stagingDir:    os.TempDir(),
		nativeEnabled: true,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load writes rows for uploadID chunk by chunk. Each chunk lands entirely,
// through the native path or the insert fallback, or Load stops with an error.
func (l *Loader) Load(ctx context.Context, uploadID uuid.UUID, rows []domain.RowRecord) (int64, error) {
	started := time.Now()
	var total int64

	for start := 0; start < len(rows); start += l.chunkSize {
		end := min(start+l.chunkSize, len(rows))
		chunkStarted := time.Now()

		written, path, err := l.loadChunk(ctx, uploadID, rows[start:end])
		if err != nil {
			return total, fmt.Errorf("failed to load rows %d-%d: %w", start+1, end, err)
		}
		total += written

		elapsed := time.Since(chunkStarted)
		l.logger.Info("loaded chunk",
			zap.String("upload_id", uploadID.String()),
			zap.String("path", path),
			zap.Int("from", start+1),
			zap.Int("to", end),
			zap.Int64("rows", written),
			zap.Duration("elapsed", elapsed),
			zap.Float64("rows_per_sec", rate(written, elapsed)),
		)
	}

	elapsed := time.Since(started)
	l.logger.Info("bulk load complete",
		zap.String("upload_id", uploadID.String()),
		zap.Int64("rows", total),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rows_per_sec", rate(total, elapsed)),
	)
	return total, nil
}

func (l *Loader) loadChunk(ctx context.Context, uploadID uuid.UUID, rows []domain.RowRecord) (int64, string, error) {
	written, nativeErr := l.loadNative(ctx, uploadID, rows)
	if nativeErr == nil {
		l.metrics.AddBulkRows("native", written)
		return written, "native", nil
	}
	if !errors.Is(nativeErr, ErrNativeUnavailable) {
		l.logger.Warn("native bulk load failed, falling back to batched insert",
			zap.String("upload_id", uploadID.String()),
			zap.Int("rows", len(rows)),
			zap.Error(nativeErr),
		)
	}

	written, err := l.store.InsertRows(ctx, uploadID, rows)
	if err != nil {
		if errors.Is(nativeErr, ErrNativeUnavailable) {
			return 0, "fallback", err
		}
		return 0, "fallback", errors.Join(nativeErr, err)
	}
	l.metrics.AddBulkRows("fallback", written)
	return written, "fallback", nil
}

// loadNative stages rows to a CSV file and streams it to the store's COPY
// path. The staging file is removed on every path.
func (l *Loader) loadNative(ctx context.Context, uploadID uuid.UUID, rows []domain.RowRecord) (int64, error) {
	if !l.nativeEnabled {
		return 0, ErrNativeUnavailable
	}

	path, err := stageChunk(l.stagingDir, uploadID, rows)
	if err != nil {
		return 0, err
	}
	defer func() {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			l.logger.Warn("failed to remove staging file", zap.String("file", path), zap.Error(removeErr))
		}
	}()

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open staging file: %w", err)
	}
	defer file.Close()

	written, err := l.store.CopyFromCSV(ctx, file)
	if err != nil {
		return 0, err
	}
	if written != int64(len(rows)) {
		return 0, fmt.Errorf("native load wrote %d of %d rows", written, len(rows))
	}
	return written, nil
}

func rate(rows int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(rows) / elapsed.Seconds()
}
