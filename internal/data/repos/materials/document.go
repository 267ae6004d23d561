package materials

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

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	GetByContentHash(dbc dbctx.Context, hash string) (*types.Document, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	ListByStatuses(dbc dbctx.Context, statuses []types.DocumentStatus) ([]*types.Document, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.Document, error)
	Transition(dbc dbctx.Context, id uuid.UUID, from []types.DocumentStatus, to types.DocumentStatus, updates map[string]interface{}) (bool, error)
	SetTotalChunks(dbc dbctx.Context, id uuid.UUID, total int) error
	IncrementProcessed(dbc dbctx.Context, id uuid.UUID) (bool, error)
	ResetForRetry(dbc dbctx.Context, id uuid.UUID) (bool, error)
	FullDeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) error {
	if doc == nil {
		return fmt.Errorf("missing document")
	}
	if doc.ContentHash == "" {
		return fmt.Errorf("missing content hash")
	}
	return dbc.Resolve(r.db).Create(doc).Error
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Document
	err := dbc.Resolve(r.db).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *documentRepo) GetByContentHash(dbc dbctx.Context, hash string) (*types.Document, error) {
	if hash == "" {
		return nil, nil
	}
	var out types.Document
	err := dbc.Resolve(r.db).Where("content_hash = ?", hash).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LockByID takes a row lock on postgres; other dialects fall back to a plain read inside the tx.
func (r *documentRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID required dbc.Tx")
	}
	q := dbc.Resolve(r.db)
	if dbc.Tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var out types.Document
	err := q.Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *documentRepo) ListByStatuses(dbc dbctx.Context, statuses []types.DocumentStatus) ([]*types.Document, error) {
	out := []*types.Document{}
	if len(statuses) == 0 {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.Document, error) {
	out := []*types.Document{}
	if ownerID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if err := dbc.Resolve(r.db).
		Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Transition moves id to `to` only while its current status is one of from. The bool reports whether
// this call won the transition; a false return with nil error means someone else already moved it.
func (r *documentRepo) Transition(dbc dbctx.Context, id uuid.UUID, from []types.DocumentStatus, to types.DocumentStatus, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("missing id")
	}
	if len(from) == 0 {
		return false, fmt.Errorf("missing source statuses")
	}
	for _, f := range from {
		if !f.CanTransition(to) {
			return false, fmt.Errorf("document status %s -> %s not allowed", f, to)
		}
	}
	fields := map[string]interface{}{}
	for k, v := range updates {
		fields[k] = v
	}
	fields["status"] = to
	fields["updated_at"] = time.Now().UTC()

	res := dbc.Resolve(r.db).
		Model(&types.Document{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepo) SetTotalChunks(dbc dbctx.Context, id uuid.UUID, total int) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if total < 0 {
		return fmt.Errorf("negative total chunks")
	}
	return dbc.Resolve(r.db).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_chunks": total,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// IncrementProcessed bumps processed_chunks in a single statement and refuses to pass total_chunks.
func (r *documentRepo) IncrementProcessed(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, fmt.Errorf("missing id")
	}
	res := dbc.Resolve(r.db).
		Model(&types.Document{}).
		Where("id = ? AND (total_chunks IS NULL OR processed_chunks < total_chunks)", id).
		Updates(map[string]interface{}{
			"processed_chunks": gorm.Expr("processed_chunks + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ResetForRetry returns a FAILED or CANCELLED document to a clean PENDING state.
func (r *documentRepo) ResetForRetry(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	return r.Transition(dbc, id,
		[]types.DocumentStatus{types.DocumentFailed, types.DocumentCancelled},
		types.DocumentPending,
		map[string]interface{}{
			"processed_chunks": 0,
			"total_chunks":     nil,
			"processing_error": nil,
			"started_at":       nil,
			"completed_at":     nil,
		},
	)
}

func (r *documentRepo) FullDeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.Resolve(r.db).
		Where("id IN ?", ids).
		Delete(&types.Document{}).Error
}
