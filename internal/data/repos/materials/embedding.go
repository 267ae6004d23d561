package materials

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// EmbeddingStats is the aggregate view of a document's stored chunks.
type EmbeddingStats struct {
	ChunkCount   int      `json:"chunk_count"`
	AvgWordCount float64  `json:"avg_word_count"`
	TableChunks  int      `json:"table_chunks"`
	ImageChunks  int      `json:"image_chunks"`
	Sections     []string `json:"sections"`
}

type EmbeddingRepo interface {
	Create(dbc dbctx.Context, emb *types.Embedding) error
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Embedding, error)
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Embedding, error)
	ChunkIndexesByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]int, error)
	CountByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
	StatsByDocument(dbc dbctx.Context, documentID uuid.UUID) (*EmbeddingStats, error)
	DeleteByDocumentIDs(dbc dbctx.Context, documentIDs []uuid.UUID) error
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{db: db, log: baseLog.With("repo", "EmbeddingRepo")}
}

func (r *embeddingRepo) Create(dbc dbctx.Context, emb *types.Embedding) error {
	if emb == nil {
		return fmt.Errorf("missing embedding")
	}
	if emb.ChunkIndex < 0 {
		return fmt.Errorf("negative chunk index")
	}
	return dbc.Resolve(r.db).Create(emb).Error
}

func (r *embeddingRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Embedding, error) {
	out := []*types.Embedding{}
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *embeddingRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*types.Embedding, error) {
	out := []*types.Embedding{}
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *embeddingRepo) ChunkIndexesByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]int, error) {
	out := []int{}
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Model(&types.Embedding{}).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Pluck("chunk_index", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *embeddingRepo) CountByDocument(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	var n int64
	if documentID == uuid.Nil {
		return 0, nil
	}
	if err := dbc.Resolve(r.db).
		Model(&types.Embedding{}).
		Where("document_id = ?", documentID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *embeddingRepo) StatsByDocument(dbc dbctx.Context, documentID uuid.UUID) (*EmbeddingStats, error) {
	if documentID == uuid.Nil {
		return nil, fmt.Errorf("missing document id")
	}
	var agg struct {
		ChunkCount   int
		AvgWordCount float64
		TableChunks  int
		ImageChunks  int
	}
	if err := dbc.Resolve(r.db).
		Model(&types.Embedding{}).
		Select(`COUNT(*) AS chunk_count,
			COALESCE(AVG(word_count), 0) AS avg_word_count,
			COALESCE(SUM(CASE WHEN has_table THEN 1 ELSE 0 END), 0) AS table_chunks,
			COALESCE(SUM(CASE WHEN has_image THEN 1 ELSE 0 END), 0) AS image_chunks`).
		Where("document_id = ?", documentID).
		Scan(&agg).Error; err != nil {
		return nil, err
	}

	rows := []struct {
		Section string
		First   int
	}{}
	if err := dbc.Resolve(r.db).
		Model(&types.Embedding{}).
		Select("section, MIN(chunk_index) AS first").
		Where("document_id = ? AND section <> ''", documentID).
		Group("section").
		Order("first ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	sections := make([]string, 0, len(rows))
	for _, row := range rows {
		sections = append(sections, row.Section)
	}

	return &EmbeddingStats{
		ChunkCount:   agg.ChunkCount,
		AvgWordCount: agg.AvgWordCount,
		TableChunks:  agg.TableChunks,
		ImageChunks:  agg.ImageChunks,
		Sections:     sections,
	}, nil
}

func (r *embeddingRepo) DeleteByDocumentIDs(dbc dbctx.Context, documentIDs []uuid.UUID) error {
	if len(documentIDs) == 0 {
		return nil
	}
	return dbc.Resolve(r.db).
		Where("document_id IN ?", documentIDs).
		Delete(&types.Embedding{}).Error
}
