package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/observability"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
	"github.com/yungbote/neurobridge-rag/internal/platform/pgvector"
)

const (
	DefaultK = 5
	MaxK     = 50

	highConfidence   = 0.75
	mediumConfidence = 0.5
)

// Embedder turns texts into vectors. openai.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Sink receives finished retrieval logs. *Logger satisfies it.
type Sink interface {
	Log(ctx context.Context, entry *types.RetrievalLog) bool
}

type Request struct {
	UserID *uuid.UUID `json:"user_id,omitempty"`
	Query  string     `json:"query"`
	K      int        `json:"k,omitempty"`
	// IncludeSystem widens a user-scoped search to system documents.
	IncludeSystem bool `json:"include_system,omitempty"`
}

type Hit struct {
	EmbeddingID uuid.UUID  `json:"embedding_id"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	ChunkIndex  int        `json:"chunk_index"`
	Section     string     `json:"section,omitempty"`
	PageStart   int        `json:"page_start"`
	PageEnd     int        `json:"page_end"`
	Content     string     `json:"content"`
	Score       float64    `json:"score"`
}

type Result struct {
	Query   string                 `json:"query"`
	Hits    []Hit                  `json:"hits"`
	Metrics types.RetrievalMetrics `json:"metrics"`
}

type Service interface {
	Retrieve(ctx context.Context, req Request) (*Result, error)
}

type Deps struct {
	Log        *logger.Logger
	Embedder   Embedder
	Search     pgvector.SearchEngine
	Embeddings repos.EmbeddingRepo
	// Sink is optional; without it nothing is logged.
	Sink Sink
}

type service struct {
	log        *logger.Logger
	embedder   Embedder
	search     pgvector.SearchEngine
	embeddings repos.EmbeddingRepo
	sink       Sink
	now        func() time.Time
}

func NewService(deps Deps) (Service, error) {
	if deps.Log == nil || deps.Embedder == nil || deps.Search == nil || deps.Embeddings == nil {
		return nil, fmt.Errorf("retrieval: missing deps")
	}
	return &service{
		log:        deps.Log.With("service", "RetrievalService"),
		embedder:   deps.Embedder,
		search:     deps.Search,
		embeddings: deps.Embeddings,
		sink:       deps.Sink,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Retrieve(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", errs.ErrInvalidArgument)
	}
	k := req.K
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}

	ctx, span := observability.Tracer().Start(ctx, "retrieval.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	start := s.now()
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		err := fmt.Errorf("embed query: got %d vectors", len(vecs))
		span.RecordError(err)
		return nil, err
	}

	filter := pgvector.Filter{UserID: req.UserID, IncludeSystem: req.IncludeSystem}
	matches, err := s.search.Search(ctx, vecs[0], k, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("search: %w", err)
	}

	hits, err := s.hydrate(ctx, matches)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	latency := s.now().Sub(start)
	metrics := ComputeMetrics(k, hits, latency)
	span.SetAttributes(
		attribute.Int("results", metrics.ResultCount),
		attribute.String("confidence", string(metrics.Confidence)),
	)
	observability.Current().ObserveRetrieval(ctx, float64(latency.Microseconds())/1000, string(metrics.Confidence))

	out := &Result{Query: query, Hits: hits, Metrics: metrics}
	s.record(ctx, req.UserID, out)
	s.log.Debug("Retrieved",
		"user_id", req.UserID,
		"results", metrics.ResultCount,
		"top_score", metrics.TopScore,
		"confidence", metrics.Confidence,
		"latency_ms", metrics.LatencyMs,
	)
	return out, nil
}

// hydrate keeps the search order; matches whose embedding has vanished are skipped.
func (s *service) hydrate(ctx context.Context, matches []pgvector.Match) ([]Hit, error) {
	if len(matches) == 0 {
		return []Hit{}, nil
	}
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.EmbeddingID)
	}
	rows, err := s.embeddings.GetByIDs(dbctx.Context{Ctx: ctx}, ids)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	byID := make(map[uuid.UUID]*types.Embedding, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		e := byID[m.EmbeddingID]
		if e == nil {
			continue
		}
		hits = append(hits, Hit{
			EmbeddingID: e.ID,
			DocumentID:  e.DocumentID,
			ChunkIndex:  e.ChunkIndex,
			Section:     e.Section,
			PageStart:   e.PageStart,
			PageEnd:     e.PageEnd,
			Content:     e.Content,
			Score:       m.Score,
		})
	}
	return hits, nil
}

func (s *service) record(ctx context.Context, userID *uuid.UUID, res *Result) {
	if s.sink == nil {
		return
	}
	entries := make([]types.RetrievalResultEntry, 0, len(res.Hits))
	for _, h := range res.Hits {
		entries = append(entries, types.RetrievalResultEntry{
			EmbeddingID: h.EmbeddingID,
			DocumentID:  h.DocumentID,
			ChunkIndex:  h.ChunkIndex,
			Section:     h.Section,
			Score:       h.Score,
		})
	}
	results, err := json.Marshal(entries)
	if err != nil {
		s.log.Warn("Encoding retrieval results failed", "error", err)
		return
	}
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		s.log.Warn("Encoding retrieval metrics failed", "error", err)
		return
	}
	s.sink.Log(ctx, &types.RetrievalLog{
		ID:        uuid.New(),
		UserID:    userID,
		Query:     res.Query,
		Results:   results,
		Metrics:   metrics,
		CreatedAt: s.now(),
	})
}

// ComputeMetrics summarises a ranked hit list. The bucket follows the top score.
func ComputeMetrics(k int, hits []Hit, latency time.Duration) types.RetrievalMetrics {
	m := types.RetrievalMetrics{
		K:           k,
		ResultCount: len(hits),
		Confidence:  BucketFor(0),
		LatencyMs:   latency.Milliseconds(),
	}
	if len(hits) == 0 {
		return m
	}
	docs := map[uuid.UUID]bool{}
	low := hits[0].Score
	var sum float64
	for _, h := range hits {
		sum += h.Score
		if h.Score > m.TopScore {
			m.TopScore = h.Score
		}
		if h.Score < low {
			low = h.Score
		}
		if h.DocumentID != nil {
			docs[*h.DocumentID] = true
		}
	}
	m.MeanScore = sum / float64(len(hits))
	m.ScoreSpread = m.TopScore - low
	m.DistinctDocuments = len(docs)
	m.Confidence = BucketFor(m.TopScore)
	return m
}

func BucketFor(topScore float64) types.ConfidenceBucket {
	switch {
	case topScore >= highConfidence:
		return types.ConfidenceHigh
	case topScore >= mediumConfidence:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}
