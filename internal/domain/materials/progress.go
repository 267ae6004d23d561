package materials

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEvent is published whenever a document's status or processed count moves.
type ProgressEvent struct {
	DocumentID      uuid.UUID      `json:"document_id"`
	Status          DocumentStatus `json:"status"`
	ProcessedChunks int            `json:"processed_chunks"`
	TotalChunks     *int           `json:"total_chunks,omitempty"`
	Error           string         `json:"error,omitempty"`
	At              time.Time      `json:"at"`
}
