package domain

import (
	"time"

	"github.com/google/uuid"
)

// RowStatus captures lifecycle state for an imported row.
type RowStatus string

const (
	RowStatusPending   RowStatus = "pending"
	RowStatusProcessed RowStatus = "processed"
	RowStatusError     RowStatus = "error"
)

// RowRecord is one data row extracted from one sheet of an upload.
// (UploadID, SheetName, RowIndex) is unique and RowIndex is 1-based.
type RowRecord struct {
	ID           uuid.UUID `json:"id"`
	UploadID     uuid.UUID `json:"upload_id"`
	SheetName    string    `json:"sheet_name"`
	RowIndex     int       `json:"row_index"`
	Payload      Payload   `json:"payload"`
	Status       RowStatus `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PendingRow is a row selected for processing. The payload is kept in its
// serialized form so that decoding failures stay local to the row.
type PendingRow struct {
	ID         uuid.UUID
	UploadID   uuid.UUID
	UploadType string
	SheetName  string
	RowIndex   int
	RawPayload []byte
}

// TypeTag returns the owning upload's type, falling back to DefaultUploadType.
func (r PendingRow) TypeTag() string {
	if r.UploadType == "" {
		return DefaultUploadType
	}
	return r.UploadType
}
