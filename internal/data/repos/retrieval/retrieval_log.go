package retrieval

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type RetrievalLogRepo interface {
	CreateBatch(dbc dbctx.Context, rows []*types.RetrievalLog) error
	ListRecentByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.RetrievalLog, error)
}

type retrievalLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRetrievalLogRepo(db *gorm.DB, baseLog *logger.Logger) RetrievalLogRepo {
	return &retrievalLogRepo{db: db, log: baseLog.With("repo", "RetrievalLogRepo")}
}

func (r *retrievalLogRepo) CreateBatch(dbc dbctx.Context, rows []*types.RetrievalLog) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.Resolve(r.db).CreateInBatches(rows, 100).Error
}

func (r *retrievalLogRepo) ListRecentByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.RetrievalLog, error) {
	out := []*types.RetrievalLog{}
	if limit <= 0 {
		limit = 50
	}
	q := dbc.Resolve(r.db)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
