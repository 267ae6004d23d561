package learning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultExpectedQuestions  = 5
	DefaultTargetAnswerLength = 800
	DefaultTargetCitations    = 5
)

// Topic is a node of the taxonomy. ParentID is a plain key; children are resolved through an arena.
type Topic struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Slug       string     `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Name       string     `gorm:"column:name;not null" json:"name"`
	Level      int        `gorm:"column:level;not null;default:0;index" json:"level"`
	ParentID   *uuid.UUID `gorm:"type:uuid;column:parent_id;index" json:"parent_id,omitempty"`
	ChapterNum *int       `gorm:"column:chapter_num" json:"chapter_num,omitempty"`

	Keywords datatypes.JSON `gorm:"column:keywords;type:jsonb" json:"keywords"`
	Aliases  datatypes.JSON `gorm:"column:aliases;type:jsonb" json:"aliases"`

	ExpectedQuestions  int `gorm:"column:expected_questions;not null;default:5" json:"expected_questions"`
	TargetAnswerLength int `gorm:"column:target_answer_length;not null;default:800" json:"target_answer_length"`
	TargetCitations    int `gorm:"column:target_citations;not null;default:5" json:"target_citations"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Topic) TableName() string { return "topic" }

func (t *Topic) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ExpectedQuestions <= 0 {
		t.ExpectedQuestions = DefaultExpectedQuestions
	}
	if t.TargetAnswerLength <= 0 {
		t.TargetAnswerLength = DefaultTargetAnswerLength
	}
	if t.TargetCitations <= 0 {
		t.TargetCitations = DefaultTargetCitations
	}
	return nil
}

func (t *Topic) KeywordList() []string { return decodeStrings(t.Keywords) }
func (t *Topic) AliasList() []string   { return decodeStrings(t.Aliases) }

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// EncodeStrings is the inverse of the list accessors; nil encodes as an empty array.
func EncodeStrings(v []string) datatypes.JSON {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return datatypes.JSON(b)
}
