package pgvector

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

func TestBuildSearchQueryScopesByUser(t *testing.T) {
	vec := pgv.NewVector([]float32{1, 0})

	sql, args := buildSearchQuery(vec, 3, Filter{})
	assert.NotContains(t, sql, "user_id")
	assert.Len(t, args, 2)

	uid := uuid.New()
	sql, args = buildSearchQuery(vec, 3, Filter{UserID: &uid, IncludeSystem: true})
	assert.Contains(t, sql, "user_id = $3 OR source = 'system'")
	require.Len(t, args, 3)
	assert.Equal(t, uid, args[2])
	assert.True(t, strings.HasSuffix(strings.TrimSpace(sql), "LIMIT $2"))
}

func TestDistanceToScore(t *testing.T) {
	assert.Equal(t, 1.0, DistanceToScore(0))
	assert.Equal(t, 0.0, DistanceToScore(1))
}

func TestSearchRejectsBadInput(t *testing.T) {
	s := &searchEngine{dim: 2, log: logger.Nop()}
	_, err := s.Search(context.Background(), nil, 1, Filter{})
	require.Error(t, err)
	_, err = s.Search(context.Background(), []float32{1, 2, 3}, 1, Filter{})
	require.Error(t, err)
}

func TestSearchIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run pgvector integration tests")
	}
	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	// temp tables are per session
	cfg.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TEMP TABLE embedding (id uuid PRIMARY KEY, user_id uuid, source text, vector vector(2))`)
	require.NoError(t, err)

	near, far := uuid.New(), uuid.New()
	_, err = pool.Exec(ctx, `INSERT INTO embedding (id, source, vector) VALUES ($1, 'upload', $2), ($3, 'upload', $4)`,
		near, pgv.NewVector([]float32{1, 0}), far, pgv.NewVector([]float32{0, 1}))
	require.NoError(t, err)

	engine, err := NewSearchEngine(pool, 2, logger.Nop())
	require.NoError(t, err)
	got, err := engine.Search(ctx, []float32{1, 0.1}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, near, got[0].EmbeddingID)
	assert.Greater(t, got[0].Score, got[1].Score)
}
