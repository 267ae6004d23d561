package learning

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type TopicRepo interface {
	UpsertBySlug(dbc dbctx.Context, topic *types.Topic) (*types.Topic, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error)
	GetBySlug(dbc dbctx.Context, slug string) (*types.Topic, error)
	ListAll(dbc dbctx.Context) ([]*types.Topic, error)
}

type topicRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTopicRepo(db *gorm.DB, baseLog *logger.Logger) TopicRepo {
	return &topicRepo{db: db, log: baseLog.With("repo", "TopicRepo")}
}

// UpsertBySlug inserts the topic or overwrites the descriptive columns of the existing slug. The
// returned row carries the persisted id.
func (r *topicRepo) UpsertBySlug(dbc dbctx.Context, topic *types.Topic) (*types.Topic, error) {
	if topic == nil || topic.Slug == "" {
		return nil, fmt.Errorf("missing topic slug")
	}
	if topic.Name == "" {
		topic.Name = topic.Slug
	}
	topic.UpdatedAt = time.Now().UTC()
	if err := dbc.Resolve(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "level", "parent_id", "chapter_num", "keywords", "aliases",
				"expected_questions", "target_answer_length", "target_citations", "updated_at",
			}),
		}).
		Create(topic).Error; err != nil {
		return nil, err
	}
	return r.GetBySlug(dbc, topic.Slug)
}

func (r *topicRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Topic
	err := dbc.Resolve(r.db).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *topicRepo) GetBySlug(dbc dbctx.Context, slug string) (*types.Topic, error) {
	if slug == "" {
		return nil, nil
	}
	var out types.Topic
	err := dbc.Resolve(r.db).Where("slug = ?", slug).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *topicRepo) ListAll(dbc dbctx.Context) ([]*types.Topic, error) {
	out := []*types.Topic{}
	if err := dbc.Resolve(r.db).
		Order("level ASC, slug ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
