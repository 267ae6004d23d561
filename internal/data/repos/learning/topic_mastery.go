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

type TopicMasteryRepo interface {
	EnsureRow(dbc dbctx.Context, userID, topicID uuid.UUID) error
	LockByUserTopic(dbc dbctx.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error)
	Get(dbc dbctx.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.TopicMastery, error)
	Save(dbc dbctx.Context, row *types.TopicMastery) error
}

type topicMasteryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTopicMasteryRepo(db *gorm.DB, baseLog *logger.Logger) TopicMasteryRepo {
	return &topicMasteryRepo{db: db, log: baseLog.With("repo", "TopicMasteryRepo")}
}

// EnsureRow creates the NOT_STARTED row for (user, topic) unless one exists.
func (r *topicMasteryRepo) EnsureRow(dbc dbctx.Context, userID, topicID uuid.UUID) error {
	if userID == uuid.Nil || topicID == uuid.Nil {
		return fmt.Errorf("missing user or topic id")
	}
	row := &types.TopicMastery{
		UserID:  userID,
		TopicID: topicID,
		Status:  types.MasteryNotStarted,
	}
	return dbc.Resolve(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "topic_id"}},
			DoNothing: true,
		}).
		Create(row).Error
}

func (r *topicMasteryRepo) LockByUserTopic(dbc dbctx.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error) {
	if userID == uuid.Nil || topicID == uuid.Nil {
		return nil, fmt.Errorf("missing user or topic id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByUserTopic required dbc.Tx")
	}
	q := dbc.Resolve(r.db)
	if dbc.Tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var out types.TopicMastery
	err := q.Where("user_id = ? AND topic_id = ?", userID, topicID).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *topicMasteryRepo) Get(dbc dbctx.Context, userID, topicID uuid.UUID) (*types.TopicMastery, error) {
	if userID == uuid.Nil || topicID == uuid.Nil {
		return nil, nil
	}
	var out types.TopicMastery
	err := dbc.Resolve(r.db).
		Where("user_id = ? AND topic_id = ?", userID, topicID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *topicMasteryRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.TopicMastery, error) {
	out := []*types.TopicMastery{}
	if userID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Where("user_id = ?", userID).
		Order("last_interaction DESC, topic_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Save writes every column of an existing row.
func (r *topicMasteryRepo) Save(dbc dbctx.Context, row *types.TopicMastery) error {
	if row == nil || row.ID == uuid.Nil {
		return fmt.Errorf("missing mastery row id")
	}
	row.UpdatedAt = time.Now().UTC()
	return dbc.Resolve(r.db).Save(row).Error
}
