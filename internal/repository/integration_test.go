package repository_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rpattn/sheetpipe/internal/bulkload"
	"github.com/rpattn/sheetpipe/internal/db"
	"github.com/rpattn/sheetpipe/internal/domain"
	"github.com/rpattn/sheetpipe/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDatabase connects to SHEETPIPE_TEST_DATABASE_URL and applies the
// schema. Tests using it are skipped when the variable is not set.
func openTestDatabase(t *testing.T) *db.Connection {
	t.Helper()
	raw := os.Getenv("SHEETPIPE_TEST_DATABASE_URL")
	if raw == "" {
		t.Skip("SHEETPIPE_TEST_DATABASE_URL not set")
	}

	parsed, err := pgxpool.ParseConfig(raw)
	require.NoError(t, err)
	cfg := db.Config{
		Host:     parsed.ConnConfig.Host,
		Port:     int(parsed.ConnConfig.Port),
		User:     parsed.ConnConfig.User,
		Password: parsed.ConnConfig.Password,
		DBName:   parsed.ConnConfig.Database,
		SSLMode:  "disable",
		MaxConns: 2,
	}
	if strings.Contains(raw, "sslmode=require") {
		cfg.SSLMode = "require"
	}

	require.NoError(t, db.RunMigrations(cfg, nil))
	conn, err := db.NewConnection(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, conn.Ping(context.Background()))
	return conn
}

func insertUpload(t *testing.T, conn *db.Connection, uploadType string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	pool, err := conn.Pool(ctx)
	require.NoError(t, err)

	var id uuid.UUID
	err = pool.QueryRow(ctx, `INSERT INTO uploads (path, type) VALUES ($1, $2) RETURNING id`, "fixtures/"+uuid.NewString()+".xlsx", uploadType).Scan(&id)
	require.NoError(t, err)
	return id
}

func tricky(index int) domain.RowRecord {
	payload := domain.NewPayload(4)
	payload.Set("text", "comma, \"quote\"\nnewline")
	payload.Set("unicode", "Ünïcødé ✓")
	payload.Set("n", int64(index))
	payload.Set("missing", nil)
	return domain.RowRecord{SheetName: "Sheet, 1", RowIndex: index, Payload: payload, Status: domain.RowStatusPending}
}

func TestRowStoreNativeAndFallbackRoundTrip(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	rows := repository.NewRowRepository(conn)
	uploads := repository.NewUploadRepository(conn)
	uploadID := insertUpload(t, conn, "type1")

	native := bulkload.NewLoader(rows, bulkload.WithStagingDir(t.TempDir()))
	written, err := native.Load(ctx, uploadID, []domain.RowRecord{tricky(1), tricky(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)

	fallback := bulkload.NewLoader(rows, bulkload.WithNative(false))
	written, err = fallback.Load(ctx, uploadID, []domain.RowRecord{tricky(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)

	stored, err := rows.ListByUpload(ctx, uploadID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, record := range stored {
		assert.Equal(t, i+1, record.RowIndex)
		assert.Equal(t, "Sheet, 1", record.SheetName)
		assert.Equal(t, domain.RowStatusPending, record.Status)
		assert.True(t, tricky(i+1).Payload.Equal(record.Payload), "row %d payload %v", i+1, record.Payload.Map())
	}

	pending, err := rows.ListPending(ctx, 100)
	require.NoError(t, err)
	var ours []domain.PendingRow
	for _, row := range pending {
		if row.UploadID == uploadID {
			ours = append(ours, row)
		}
	}
	require.Len(t, ours, 3)
	assert.Equal(t, "type1", ours[0].UploadType)

	transformed := domain.NewPayload(1)
	transformed.Set("done", true)
	require.NoError(t, rows.MarkProcessed(ctx, ours[0].ID, transformed))
	require.NoError(t, rows.MarkError(ctx, ours[1].ID, "duplicate row"))
	assert.ErrorIs(t, rows.MarkError(ctx, uuid.New(), "missing"), repository.ErrNotFound)

	require.NoError(t, uploads.UpdateRowCount(ctx, uploadID, 3))
	require.NoError(t, uploads.UpdateStatus(ctx, uploadID, domain.UploadStatusImported, nil))
	job, err := uploads.GetByID(ctx, uploadID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusImported, job.Status)
	require.NotNil(t, job.TotalRows)
	assert.Equal(t, 3, *job.TotalRows)
}

func TestMarkImportedWritesCountAndStatusTogether(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	uploads := repository.NewUploadRepository(conn)
	uploadID := insertUpload(t, conn, "default")

	message := "earlier failure"
	require.NoError(t, uploads.UpdateStatus(ctx, uploadID, domain.UploadStatusPending, &message))
	require.NoError(t, uploads.MarkImported(ctx, uploadID, 7))

	job, err := uploads.GetByID(ctx, uploadID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusImported, job.Status)
	require.NotNil(t, job.TotalRows)
	assert.Equal(t, 7, *job.TotalRows)
	assert.Nil(t, job.ErrorMessage)

	assert.ErrorIs(t, uploads.MarkImported(ctx, uuid.New(), 1), repository.ErrNotFound)
}

func TestRowStoreRejectsDuplicateKeys(t *testing.T) {
	conn := openTestDatabase(t)
	ctx := context.Background()
	rows := repository.NewRowRepository(conn)
	uploadID := insertUpload(t, conn, "default")

	_, err := rows.InsertRows(ctx, uploadID, []domain.RowRecord{tricky(1)})
	require.NoError(t, err)

	loader := bulkload.NewLoader(rows, bulkload.WithStagingDir(t.TempDir()))
	_, err = loader.Load(ctx, uploadID, []domain.RowRecord{tricky(2), tricky(1)})
	require.Error(t, err)

	stored, err := rows.ListByUpload(ctx, uploadID)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "a failed chunk must not land partially")
}
