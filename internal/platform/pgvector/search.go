package pgvector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// Match is one ranked hit. Score is cosine similarity, higher is closer.
type Match struct {
	EmbeddingID uuid.UUID
	Score       float64
}

// Filter narrows the candidate set. A nil UserID searches every embedding.
type Filter struct {
	UserID        *uuid.UUID
	IncludeSystem bool
}

type SearchEngine interface {
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Match, error)
}

type searchEngine struct {
	pool *pgxpool.Pool
	dim  int
	log  *logger.Logger
}

// NewSearchEngine runs similarity queries over the embedding table. dim <= 0 skips the dimension check.
func NewSearchEngine(pool *pgxpool.Pool, dim int, log *logger.Logger) (SearchEngine, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool required")
	}
	return &searchEngine{pool: pool, dim: dim, log: log.With("service", "PgVectorSearch")}, nil
}

func (s *searchEngine) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Match, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if s.dim > 0 && len(query) != s.dim {
		return nil, fmt.Errorf("query vector dimension mismatch: got %d, want %d", len(query), s.dim)
	}
	if k <= 0 {
		k = 5
	}

	sql, args := buildSearchQuery(pgv.NewVector(query), k, filter)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0, k)
	for rows.Next() {
		var (
			rawID    string
			distance float64
		)
		if err := rows.Scan(&rawID, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("bad embedding id %q: %w", rawID, err)
		}
		out = append(out, Match{EmbeddingID: id, Score: DistanceToScore(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func buildSearchQuery(vec pgv.Vector, k int, filter Filter) (string, []any) {
	var b strings.Builder
	args := []any{vec, k}
	b.WriteString(`SELECT id::text, vector <=> $1 AS distance
FROM embedding
WHERE vector IS NOT NULL`)
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		if filter.IncludeSystem {
			b.WriteString(` AND (user_id = $3 OR source = 'system')`)
		} else {
			b.WriteString(` AND user_id = $3`)
		}
	}
	b.WriteString(`
ORDER BY distance ASC, id ASC
LIMIT $2`)
	return b.String(), args
}

// DistanceToScore maps cosine distance [0,2] onto similarity [-1,1].
func DistanceToScore(distance float64) float64 {
	return 1 - distance
}
