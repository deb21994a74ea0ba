package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/sheetpipe/internal/db"
	"github.com/rpattn/sheetpipe/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type uploadRepository struct {
	conn *db.Connection
}

// NewUploadRepository wires an upload repository backed by the worker's connection.
func NewUploadRepository(conn *db.Connection) UploadRepository {
	return &uploadRepository{conn: conn}
}

const uploadColumns = `id, path, type, status, total_rows, error_message, created_at, updated_at`

func (r *uploadRepository) ListPending(ctx context.Context, limit int) ([]domain.UploadJob, error) {
	if limit <= 0 {
		limit = 10
	}
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(
		ctx,
		`SELECT `+uploadColumns+`
		 FROM uploads
		 WHERE status = $1
		 ORDER BY created_at, id
		 LIMIT $2`,
		string(domain.UploadStatusPending),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending uploads: %w", err)
	}
	defer rows.Close()

	jobs := []domain.UploadJob{}
	for rows.Next() {
		job, scanErr := scanUpload(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate pending uploads: %w", rowsErr)
	}

	return jobs, nil
}

func (r *uploadRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.UploadJob, error) {
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return domain.UploadJob{}, err
	}

	job, err := scanUpload(pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UploadJob{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
		}
		return domain.UploadJob{}, err
	}
	return job, nil
}

func (r *uploadRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.UploadStatus, errorMessage *string) error {
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return err
	}

	var message any
	if errorMessage != nil {
		message = domain.TruncateMessage(*errorMessage)
	}

	tag, err := pool.Exec(
		ctx,
		`UPDATE uploads
		 SET status = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $1`,
		id,
		string(status),
		message,
	)
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *uploadRepository) UpdateRowCount(ctx context.Context, id uuid.UUID, totalRows int) error {
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(
		ctx,
		`UPDATE uploads SET total_rows = $2, updated_at = NOW() WHERE id = $1`,
		id,
		totalRows,
	)
	if err != nil {
		return fmt.Errorf("failed to update upload total rows: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *uploadRepository) MarkImported(ctx context.Context, id uuid.UUID, totalRows int) error {
	pool, err := r.conn.Pool(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(
		ctx,
		`UPDATE uploads
		 SET status = $2, total_rows = $3, error_message = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id,
		string(domain.UploadStatusImported),
		totalRows,
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload imported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanUpload(row pgx.Row) (domain.UploadJob, error) {
	var (
		job          domain.UploadJob
		status       string
		totalRows    pgtype.Int4
		errorMessage pgtype.Text
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	if err := row.Scan(
		&job.ID,
		&job.Path,
		&job.Type,
		&status,
		&totalRows,
		&errorMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UploadJob{}, err
		}
		return domain.UploadJob{}, fmt.Errorf("failed to scan upload: %w", err)
	}

	job.Status = domain.UploadStatus(status)
	if totalRows.Valid {
		value := int(totalRows.Int32)
		job.TotalRows = &value
	}
	if errorMessage.Valid {
		value := errorMessage.String
		job.ErrorMessage = &value
	}
	if createdAt.Valid {
		job.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		job.UpdatedAt = updatedAt.Time
	}
	return job, nil
}
