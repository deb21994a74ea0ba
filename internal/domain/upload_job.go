package domain

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus captures lifecycle state for an upload job.
type UploadStatus string

const (
	UploadStatusPending  UploadStatus = "pending"
	UploadStatusImported UploadStatus = "imported"
	UploadStatusError    UploadStatus = "error"
)

// DefaultUploadType is the type tag used when a job carries none.
const DefaultUploadType = "default"

// UploadJob is one spreadsheet file submitted for ingestion. Jobs are created
// outside this system; the import pipeline only advances their status.
type UploadJob struct {
	ID           uuid.UUID    `json:"id"`
	Path         string       `json:"path"`
	Type         string       `json:"type"`
	Status       UploadStatus `json:"status"`
	TotalRows    *int         `json:"total_rows,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TypeTag returns the job's type, falling back to DefaultUploadType.
func (j UploadJob) TypeTag() string {
	if j.Type == "" {
		return DefaultUploadType
	}
	return j.Type
}
