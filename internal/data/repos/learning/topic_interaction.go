package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type TopicInteractionRepo interface {
	Create(dbc dbctx.Context, row *types.TopicInteraction) error
	ListByUserTopic(dbc dbctx.Context, userID, topicID uuid.UUID) ([]*types.TopicInteraction, error)
	ListRecentByUserTopic(dbc dbctx.Context, userID, topicID uuid.UUID, limit int) ([]*types.TopicInteraction, error)
	ListByUserSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) ([]*types.TopicInteraction, error)
}

type topicInteractionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTopicInteractionRepo(db *gorm.DB, baseLog *logger.Logger) TopicInteractionRepo {
	return &topicInteractionRepo{db: db, log: baseLog.With("repo", "TopicInteractionRepo")}
}

func (r *topicInteractionRepo) Create(dbc dbctx.Context, row *types.TopicInteraction) error {
	if row == nil || row.UserID == uuid.Nil || row.TopicID == uuid.Nil {
		return fmt.Errorf("missing user or topic id")
	}
	return dbc.Resolve(r.db).Create(row).Error
}

// ListByUserTopic returns the event log in replay order.
func (r *topicInteractionRepo) ListByUserTopic(dbc dbctx.Context, userID, topicID uuid.UUID) ([]*types.TopicInteraction, error) {
	out := []*types.TopicInteraction{}
	if userID == uuid.Nil || topicID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Where("user_id = ? AND topic_id = ?", userID, topicID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *topicInteractionRepo) ListRecentByUserTopic(dbc dbctx.Context, userID, topicID uuid.UUID, limit int) ([]*types.TopicInteraction, error) {
	out := []*types.TopicInteraction{}
	if userID == uuid.Nil || topicID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if err := dbc.Resolve(r.db).
		Where("user_id = ? AND topic_id = ?", userID, topicID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *topicInteractionRepo) ListByUserSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) ([]*types.TopicInteraction, error) {
	out := []*types.TopicInteraction{}
	if userID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
