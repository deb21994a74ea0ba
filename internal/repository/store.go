package repository

import (
	"context"
	"errors"
	"io"

	"github.com/rpattn/sheetpipe/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("record not found")

// UploadRepository is the job side of the store contract. Only the import
// pipeline mutates uploads.
type UploadRepository interface {
	ListPending(ctx context.Context, limit int) ([]domain.UploadJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.UploadJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.UploadStatus, errorMessage *string) error
	UpdateRowCount(ctx context.Context, id uuid.UUID, totalRows int) error
	// MarkImported records the row count and the imported status in one write.
	MarkImported(ctx context.Context, id uuid.UUID, totalRows int) error
}

// RowRepository is the row side of the store contract. Only the processing
// pipeline mutates rows after they are loaded.
type RowRepository interface {
	ListPending(ctx context.Context, limit int) ([]domain.PendingRow, error)
	ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]domain.RowRecord, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, payload domain.Payload) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
}

// BulkRowWriter is the bulk insert surface used by the bulk loader. Both
// methods land a chunk entirely or not at all.
type BulkRowWriter interface {
	// CopyFromCSV streams a staging artifact through the native bulk-load path.
	// Columns are upload_id, sheet_name, row_index, payload, status.
	CopyFromCSV(ctx context.Context, staging io.Reader) (int64, error)
	// InsertRows writes the same rows with batched multi-row INSERT statements.
	InsertRows(ctx context.Context, uploadID uuid.UUID, rows []domain.RowRecord) (int64, error)
}

// RowStore is the complete row store: processing updates plus bulk inserts.
type RowStore interface {
	RowRepository
	BulkRowWriter
}
