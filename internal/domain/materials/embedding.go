package materials

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EmbeddingSourceUpload = "upload"
	EmbeddingSourceSystem = "system"
)

// Embedding is one chunk of a document plus its vector. System embeddings carry no DocumentID.
type Embedding struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID *uuid.UUID `gorm:"type:uuid;column:document_id;uniqueIndex:idx_embedding_document_chunk,priority:1" json:"document_id,omitempty"`
	Document   *Document  `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	UserID     *uuid.UUID `gorm:"type:uuid;column:user_id;index" json:"user_id,omitempty"`

	Source       string          `gorm:"column:source;not null;default:'upload'" json:"source"`
	DocumentType string          `gorm:"column:document_type" json:"document_type,omitempty"`
	Content      string          `gorm:"column:content;type:text;not null" json:"content"`
	Vector       pgvector.Vector `gorm:"column:vector;type:vector" json:"-"`
	Model        string          `gorm:"column:model" json:"model,omitempty"`

	ChunkIndex     int            `gorm:"column:chunk_index;not null;uniqueIndex:idx_embedding_document_chunk,priority:2" json:"chunk_index"`
	TotalChunks    int            `gorm:"column:total_chunks;not null" json:"total_chunks"`
	Section        string         `gorm:"column:section" json:"section,omitempty"`
	SectionLevel   int            `gorm:"column:section_level;not null;default:0" json:"section_level"`
	StartLine      int            `gorm:"column:start_line;not null" json:"start_line"`
	EndLine        int            `gorm:"column:end_line;not null" json:"end_line"`
	PageStart      int            `gorm:"column:page_start;not null" json:"page_start"`
	PageEnd        int            `gorm:"column:page_end;not null" json:"page_end"`
	HasTable       bool           `gorm:"column:has_table;not null;default:false" json:"has_table"`
	HasImage       bool           `gorm:"column:has_image;not null;default:false" json:"has_image"`
	WordCount      int            `gorm:"column:word_count;not null" json:"word_count"`
	ChunkingConfig datatypes.JSON `gorm:"column:chunking_config;type:jsonb" json:"chunking_config,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (Embedding) TableName() string { return "embedding" }

func (e *Embedding) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Source == "" {
		e.Source = EmbeddingSourceUpload
	}
	return nil
}
