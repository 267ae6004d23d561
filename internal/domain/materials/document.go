package materials

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentCompleted  DocumentStatus = "COMPLETED"
	DocumentFailed     DocumentStatus = "FAILED"
	DocumentCancelled  DocumentStatus = "CANCELLED"
)

func ParseDocumentStatus(s string) (DocumentStatus, error) {
	st := DocumentStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown document status %q", s)
	}
	return st, nil
}

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentProcessing, DocumentCompleted, DocumentFailed, DocumentCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no driver will touch the document again without an explicit retry.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentCompleted, DocumentFailed, DocumentCancelled:
		return true
	case DocumentPending, DocumentProcessing:
		return false
	default:
		return false
	}
}

// CanTransition encodes the ingestion state machine. FAILED and CANCELLED may only go back to
// PENDING through a reset; PROCESSING -> PROCESSING is the explicit resume path.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	switch s {
	case DocumentPending:
		return to == DocumentProcessing || to == DocumentCancelled || to == DocumentFailed
	case DocumentProcessing:
		return to == DocumentProcessing || to == DocumentCompleted || to == DocumentFailed || to == DocumentCancelled
	case DocumentFailed, DocumentCancelled:
		return to == DocumentPending
	case DocumentCompleted:
		return false
	default:
		return false
	}
}

type Document struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID      *uuid.UUID `gorm:"type:uuid;column:owner_user_id;index" json:"owner_user_id,omitempty"`
	IsSystemDocument bool       `gorm:"column:is_system_document;not null;default:false;index" json:"is_system_document"`

	Filename    string `gorm:"column:filename;not null" json:"filename"`
	ContentHash string `gorm:"column:content_hash;not null;uniqueIndex" json:"content_hash"`
	SizeBytes   int64  `gorm:"column:size_bytes;not null" json:"size_bytes"`
	MimeType    string `gorm:"column:mime_type" json:"mime_type"`
	StorageKey  string `gorm:"column:storage_key;not null" json:"storage_key"`

	Status          DocumentStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	TotalChunks     *int           `gorm:"column:total_chunks" json:"total_chunks,omitempty"`
	ProcessedChunks int            `gorm:"column:processed_chunks;not null;default:0" json:"processed_chunks"`
	ProcessingError *string        `gorm:"column:processing_error;type:text" json:"processing_error,omitempty"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string { return "document" }

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DocumentPending
	}
	return nil
}

// Progress returns processed/total in [0,1]; zero while the chunk count is unknown.
func (d *Document) Progress() float64 {
	if d == nil || d.TotalChunks == nil || *d.TotalChunks <= 0 {
		return 0
	}
	p := float64(d.ProcessedChunks) / float64(*d.TotalChunks)
	if p > 1 {
		return 1
	}
	return p
}
