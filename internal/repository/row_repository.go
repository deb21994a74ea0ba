package repository

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/sheetpipe/internal/db"
	"github.com/rpattn/sheetpipe/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	copyRowsSQL = `COPY upload_rows (upload_id, sheet_name, row_index, payload, status) FROM STDIN WITH (FORMAT csv)`

	insertColumnsPerRow = 5
	// Postgres caps a single statement at 65535 bind parameters.
	maxBindParameters = 65535
	maxRowsPerInsert  = maxBindParameters / insertColumnsPerRow
)

type rowRepository struct {
	conn *db.Connection
}

// NewRowRepository wires the row store backed by the worker's connection.
func NewRowRepository(conn *db.Connection) RowStore {
	return &rowRepository{conn: conn}
}

// ListPending returns pending rows joined with their upload's type tag.
func (r *rowRepository) ListPending(ctx context.Context, limit int) ([]domain.PendingRow, error) {
	if limit <= 0 {
		limit = 500
	}
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(
		ctx,
		`SELECT r.id, r.upload_id, u.type, r.sheet_name, r.row_index, r.payload::text
		 FROM upload_rows r
		 JOIN uploads u ON u.id = r.upload_id
		 WHERE r.status = $1
		 ORDER BY r.created_at, r.upload_id, r.sheet_name, r.row_index
		 LIMIT $2`,
		string(domain.RowStatusPending),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rows: %w", err)
	}
	defer rows.Close()

	pending := []domain.PendingRow{}
	for rows.Next() {
		var (
			row     domain.PendingRow
			payload string
		)
		if err := rows.Scan(&row.ID, &row.UploadID, &row.UploadType, &row.SheetName, &row.RowIndex, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		row.RawPayload = []byte(payload)
		pending = append(pending, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending rows: %w", err)
	}

	return pending, nil
}

// ListByUpload returns every row of an upload ordered by sheet and row index.
func (r *rowRepository) ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]domain.RowRecord, error) {
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(
		ctx,
		`SELECT id, upload_id, sheet_name, row_index, payload::text, status, error_message, created_at, updated_at
		 FROM upload_rows
		 WHERE upload_id = $1
		 ORDER BY sheet_name, row_index`,
		uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload rows: %w", err)
	}
	defer rows.Close()

	records := []domain.RowRecord{}
	for rows.Next() {
		var (
			record       domain.RowRecord
			payload      string
			status       string
			errorMessage pgtype.Text
			createdAt    pgtype.Timestamptz
			updatedAt    pgtype.Timestamptz
		)
		if err := rows.Scan(
			&record.ID,
			&record.UploadID,
			&record.SheetName,
			&record.RowIndex,
			&payload,
			&status,
			&errorMessage,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upload row: %w", err)
		}
		parsed, err := domain.ParsePayload([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload of row %s: %w", record.ID, err)
		}
		record.Payload = parsed
		record.Status = domain.RowStatus(status)
		if errorMessage.Valid {
			value := errorMessage.String
			record.ErrorMessage = &value
		}
		if createdAt.Valid {
			record.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			record.UpdatedAt = updatedAt.Time
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upload rows: %w", err)
	}

	return records, nil
}

// MarkProcessed stores the transformed payload and flips the row to processed.
func (r *rowRepository) MarkProcessed(ctx context.Context, id uuid.UUID, payload domain.Payload) error {
	encoded, err := payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	return r.updateStatus(
		ctx,
		`UPDATE upload_rows
		 SET status = $2, payload = $3::jsonb, error_message = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id,
		string(domain.RowStatusProcessed),
		string(encoded),
	)
}

// MarkError flips the row to error, leaving its payload as imported.
func (r *rowRepository) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	return r.updateStatus(
		ctx,
		`UPDATE upload_rows
		 SET status = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $1`,
		id,
		string(domain.RowStatusError),
		domain.TruncateMessage(message),
	)
}

func (r *rowRepository) updateStatus(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update row status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("row %s: %w", id, ErrNotFound)
	}
	return nil
}

// CopyFromCSV feeds a CSV staging artifact to COPY FROM STDIN on a dedicated
// connection. COPY is atomic, so a failure leaves no rows behind.
func (r *rowRepository) CopyFromCSV(ctx context.Context, staging io.Reader) (int64, error) {
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return 0, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection for copy: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Conn().PgConn().CopyFrom(ctx, staging, copyRowsSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to copy rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertRows writes rows with multi-row INSERT statements inside one
// transaction, splitting statements to stay under the bind parameter limit.
func (r *rowRepository) InsertRows(ctx context.Context, uploadID uuid.UUID, rows []domain.RowRecord) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int64
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		inserted = 0
		for start := 0; start < len(rows); start += maxRowsPerInsert {
			end := min(start+maxRowsPerInsert, len(rows))
			query, args, err := buildInsert(uploadID, rows[start:end])
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to insert rows: %w", err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func buildInsert(uploadID uuid.UUID, rows []domain.RowRecord) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO upload_rows (upload_id, sheet_name, row_index, payload, status) VALUES `)

	args := make([]any, 0, len(rows)*insertColumnsPerRow)
	for i, row := range rows {
		encoded, err := row.Payload.MarshalJSON()
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode payload for %s row %d: %w", row.SheetName, row.RowIndex, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * insertColumnsPerRow
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d::jsonb, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, uploadID, row.SheetName, row.RowIndex, string(encoded), string(domain.RowStatusPending))
	}

	return sb.String(), args, nil
}
