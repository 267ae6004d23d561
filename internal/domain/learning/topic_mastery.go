package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MasteryStatus string

const (
	MasteryNotStarted MasteryStatus = "NOT_STARTED"
	MasteryBeginner   MasteryStatus = "BEGINNER"
	MasteryLearning   MasteryStatus = "LEARNING"
	MasteryProficient MasteryStatus = "PROFICIENT"
	MasteryMastered   MasteryStatus = "MASTERED"
)

func ParseMasteryStatus(s string) (MasteryStatus, error) {
	st := MasteryStatus(s)
	switch st {
	case MasteryNotStarted, MasteryBeginner, MasteryLearning, MasteryProficient, MasteryMastered:
		return st, nil
	default:
		return "", fmt.Errorf("unknown mastery status %q", s)
	}
}

// Rank orders statuses from NOT_STARTED (0) to MASTERED (4).
func (s MasteryStatus) Rank() int {
	switch s {
	case MasteryNotStarted:
		return 0
	case MasteryBeginner:
		return 1
	case MasteryLearning:
		return 2
	case MasteryProficient:
		return 3
	case MasteryMastered:
		return 4
	default:
		return -1
	}
}

// TopicMastery is the per (user, topic) aggregate. The *Sum/*Strength/QuestionIntents columns are the
// sufficient statistics the component scores are derived from, so every update is O(1).
type TopicMastery struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID  uuid.UUID `gorm:"type:uuid;column:user_id;not null;uniqueIndex:idx_topic_mastery_user_topic,priority:1" json:"user_id"`
	TopicID uuid.UUID `gorm:"type:uuid;column:topic_id;not null;uniqueIndex:idx_topic_mastery_user_topic,priority:2;index" json:"topic_id"`
	Topic   *Topic    `gorm:"constraint:OnDelete:CASCADE;foreignKey:TopicID;references:ID" json:"topic,omitempty"`

	MasteryLevel float64       `gorm:"column:mastery_level;not null;default:0" json:"mastery_level"`
	Status       MasteryStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`

	CoverageScore   float64 `gorm:"column:coverage_score;not null;default:0" json:"coverage_score"`
	DepthScore      float64 `gorm:"column:depth_score;not null;default:0" json:"depth_score"`
	ConfidenceScore float64 `gorm:"column:confidence_score;not null;default:0" json:"confidence_score"`
	DiversityScore  float64 `gorm:"column:diversity_score;not null;default:0" json:"diversity_score"`
	RetentionScore  float64 `gorm:"column:retention_score;not null;default:0" json:"retention_score"`

	QuestionsAsked    int            `gorm:"column:questions_asked;not null;default:0" json:"questions_asked"`
	SubtopicsExplored datatypes.JSON `gorm:"column:subtopics_explored;type:jsonb" json:"subtopics_explored"`
	QuestionIntents   datatypes.JSON `gorm:"column:question_intents;type:jsonb" json:"-"`

	AnswerLengthSum   float64 `gorm:"column:answer_length_sum;not null;default:0" json:"-"`
	CitationSum       float64 `gorm:"column:citation_sum;not null;default:0" json:"-"`
	RagTopScoreSum    float64 `gorm:"column:rag_top_score_sum;not null;default:0" json:"-"`
	ConfidenceSum     float64 `gorm:"column:confidence_sum;not null;default:0" json:"-"`
	RetentionStrength float64 `gorm:"column:retention_strength;not null;default:0" json:"-"`
	FollowUps         int     `gorm:"column:follow_ups;not null;default:0" json:"follow_ups"`
	TimeSpentMsTotal  int64   `gorm:"column:time_spent_ms_total;not null;default:0" json:"time_spent_ms_total"`

	FirstInteraction *time.Time `gorm:"column:first_interaction" json:"first_interaction,omitempty"`
	LastInteraction  *time.Time `gorm:"column:last_interaction;index" json:"last_interaction,omitempty"`
	CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (TopicMastery) TableName() string { return "topic_mastery" }

func (m *TopicMastery) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = MasteryNotStarted
	}
	return nil
}

func (m *TopicMastery) SubtopicList() []string { return decodeStrings(m.SubtopicsExplored) }
func (m *TopicMastery) IntentList() []string   { return decodeStrings(m.QuestionIntents) }
