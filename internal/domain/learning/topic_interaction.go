package learning

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RagConfidence string

const (
	RagConfidenceHigh    RagConfidence = "HIGH"
	RagConfidenceMedium  RagConfidence = "MEDIUM"
	RagConfidenceLow     RagConfidence = "LOW"
	RagConfidenceUnknown RagConfidence = "UNKNOWN"
)

// ParseRagConfidence is lenient: unknown labels map to RagConfidenceUnknown instead of failing.
func ParseRagConfidence(s string) RagConfidence {
	switch RagConfidence(strings.ToUpper(strings.TrimSpace(s))) {
	case RagConfidenceHigh:
		return RagConfidenceHigh
	case RagConfidenceMedium:
		return RagConfidenceMedium
	case RagConfidenceLow:
		return RagConfidenceLow
	default:
		return RagConfidenceUnknown
	}
}

// Cap is the ceiling a retrieval confidence label puts on topic attribution confidence.
func (c RagConfidence) Cap() float64 {
	switch c {
	case RagConfidenceHigh:
		return 1.0
	case RagConfidenceMedium:
		return 0.7
	case RagConfidenceLow:
		return 0.4
	case RagConfidenceUnknown:
		return 1.0
	default:
		return 1.0
	}
}

// TopicInteraction is one answered query attributed to a topic. Rows are never updated or deleted.
type TopicInteraction struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID  uuid.UUID `gorm:"type:uuid;column:user_id;not null;index:idx_topic_interaction_user_topic,priority:1" json:"user_id"`
	TopicID uuid.UUID `gorm:"type:uuid;column:topic_id;not null;index:idx_topic_interaction_user_topic,priority:2" json:"topic_id"`
	Topic   *Topic    `gorm:"constraint:OnDelete:CASCADE;foreignKey:TopicID;references:ID" json:"topic,omitempty"`

	Query     string `gorm:"column:query;type:text;not null" json:"query"`
	IntentKey string `gorm:"column:intent_key;not null" json:"intent_key"`

	MappingConfidence float64        `gorm:"column:mapping_confidence;not null" json:"mapping_confidence"`
	RagConfidence     RagConfidence  `gorm:"column:rag_confidence;type:varchar(16);not null" json:"rag_confidence"`
	RagTopScore       float64        `gorm:"column:rag_top_score;not null" json:"rag_top_score"`
	CitedSections     datatypes.JSON `gorm:"column:cited_sections;type:jsonb" json:"cited_sections"`
	AnswerLength      int            `gorm:"column:answer_length;not null" json:"answer_length"`
	CitationCount     int            `gorm:"column:citation_count;not null" json:"citation_count"`
	TimeSpentMs       *int64         `gorm:"column:time_spent_ms" json:"time_spent_ms,omitempty"`
	HadFollowUp       bool           `gorm:"column:had_follow_up;not null;default:false" json:"had_follow_up"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_topic_interaction_user_topic,priority:3" json:"created_at"`
}

func (TopicInteraction) TableName() string { return "topic_interaction" }

func (t *TopicInteraction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.RagConfidence == "" {
		t.RagConfidence = RagConfidenceUnknown
	}
	return nil
}

func (t *TopicInteraction) CitedSectionList() []string { return decodeStrings(t.CitedSections) }
