package bulkload

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rpattn/sheetpipe/internal/domain"

	"github.com/google/uuid"
)

// stageChunk writes rows to a CSV staging file in dir, one record per row:
// upload_id, sheet_name, row_index, payload JSON, status. The caller owns the
// returned path.
func stageChunk(dir string, uploadID uuid.UUID, rows []domain.RowRecord) (string, error) {
	file, err := os.CreateTemp(dir, "upload-rows-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	path := file.Name()

	if err := writeChunk(file, uploadID, rows); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	return path, nil
}

func writeChunk(file *os.File, uploadID uuid.UUID, rows []domain.RowRecord) error {
	writer := csv.NewWriter(file)
	id := uploadID.String()
	status := string(domain.RowStatusPending)

	for _, row := range rows {
		payload, err := row.Payload.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s row %d: %w", row.SheetName, row.RowIndex, err)
		}
		record := []string{id, row.SheetName, strconv.Itoa(row.RowIndex), string(payload), status}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write staging record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush staging file: %w", err)
	}
	return nil
}
