package retrieval

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConfidenceBucket string

const (
	ConfidenceHigh   ConfidenceBucket = "HIGH"
	ConfidenceMedium ConfidenceBucket = "MEDIUM"
	ConfidenceLow    ConfidenceBucket = "LOW"
)

type ResultEntry struct {
	EmbeddingID uuid.UUID  `json:"embedding_id"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	ChunkIndex  int        `json:"chunk_index"`
	Section     string     `json:"section,omitempty"`
	Score       float64    `json:"score"`
}

type Metrics struct {
	K                 int              `json:"k"`
	ResultCount       int              `json:"result_count"`
	TopScore          float64          `json:"top_score"`
	MeanScore         float64          `json:"mean_score"`
	ScoreSpread       float64          `json:"score_spread"`
	DistinctDocuments int              `json:"distinct_documents"`
	Confidence        ConfidenceBucket `json:"confidence"`
	LatencyMs         int64            `json:"latency_ms"`
}

// RetrievalLog is append-only telemetry; nothing references it and nothing updates it.
type RetrievalLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    *uuid.UUID     `gorm:"type:uuid;column:user_id;index" json:"user_id,omitempty"`
	Query     string         `gorm:"column:query;type:text;not null" json:"query"`
	Results   datatypes.JSON `gorm:"column:results;type:jsonb" json:"results"`
	Metrics   datatypes.JSON `gorm:"column:metrics;type:jsonb" json:"metrics"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (RetrievalLog) TableName() string { return "retrieval_log" }

func (l *RetrievalLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return nil
}
