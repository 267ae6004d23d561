package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/chunker"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/extractor"
	"github.com/yungbote/neurobridge-rag/internal/observability"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-rag/internal/pkg/pointers"
	"github.com/yungbote/neurobridge-rag/internal/platform/contentstore"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

const maxErrorLen = 2000

// drive owns one document from PENDING (or a resumed PROCESSING) to a terminal status. Failures
// reading or writing the document row leave it where it is for ResetStuckDocuments.
func (s *service) drive(rn *run, resume bool) {
	ctx, span := observability.Tracer().Start(s.ctx, "ingestion.process_document",
		trace.WithAttributes(attribute.String("document_id", rn.documentID.String()), attribute.Bool("resume", resume)))
	defer span.End()
	log := s.log.With("document_id", rn.documentID)

	doc, err := s.begin(ctx, rn.documentID, resume)
	if err != nil {
		span.RecordError(err)
		log.Error("Could not start document processing", "error", err)
		return
	}
	if doc == nil {
		return
	}
	if rn.cancelRequested() {
		s.finishCancelled(ctx, log, doc)
		return
	}

	chunks, cfg, err := s.prepare(ctx, doc)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")
		s.finishFailed(ctx, log, doc, err)
		return
	}
	span.SetAttributes(attribute.Int("total_chunks", len(chunks)), attribute.String("document_type", string(cfg.DocumentType)))

	cancelled, err := s.dispatch(ctx, rn, doc, chunks, cfg)
	switch {
	case s.ctx.Err() != nil:
		log.Warn("Document processing interrupted by shutdown", "status", types.DocumentProcessing)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk failed")
		s.finishFailed(ctx, log, doc, err)
	case cancelled:
		s.finishCancelled(ctx, log, doc)
	default:
		s.finishCompleted(ctx, log, doc)
	}
}

// begin claims the document for this driver. A nil document means another actor owns or already
// finished it.
func (s *service) begin(ctx context.Context, id uuid.UUID, resume bool) (*types.Document, error) {
	dbc := dbctx.Context{Ctx: ctx}
	doc, err := s.docs.GetByID(dbc, id)
	if err != nil || doc == nil {
		return nil, err
	}
	now := s.now()
	switch doc.Status {
	case types.DocumentPending:
		ok, err := s.docs.Transition(dbc, id, []types.DocumentStatus{types.DocumentPending}, types.DocumentProcessing,
			map[string]interface{}{"started_at": now})
		if err != nil || !ok {
			return nil, err
		}
		doc.StartedAt = &now
	case types.DocumentProcessing:
		if !resume {
			return nil, nil
		}
		updates := map[string]interface{}{}
		if doc.StartedAt == nil {
			updates["started_at"] = now
			doc.StartedAt = &now
		}
		ok, err := s.docs.Transition(dbc, id, []types.DocumentStatus{types.DocumentProcessing}, types.DocumentProcessing, updates)
		if err != nil || !ok {
			return nil, err
		}
	case types.DocumentCompleted, types.DocumentFailed, types.DocumentCancelled:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown document status %q", doc.Status)
	}
	doc.Status = types.DocumentProcessing
	s.publish(ctx, doc, doc.ProcessedChunks, "")
	return doc, nil
}

// prepare loads, extracts and chunks the stored bytes and records total_chunks.
func (s *service) prepare(ctx context.Context, doc *types.Document) ([]chunker.Chunk, chunker.Config, error) {
	cfg := s.cfg.Chunking

	var data []byte
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		b, err := s.store.Get(ctx, doc.StorageKey)
		if errors.Is(err, contentstore.ErrNotFound) {
			return Permanent(fmt.Errorf("stored content is missing: %w", err))
		}
		data = b
		return err
	}, nil)
	if err != nil {
		return nil, cfg, fmt.Errorf("load content: %w", err)
	}

	pages, err := s.extractor.Extract(ctx, data, doc.Filename, doc.MimeType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cfg, ctx.Err()
		}
		return nil, cfg, Permanent(fmt.Errorf("extract: %w", err))
	}

	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Text)
	}
	cfg.DocumentType, _ = chunker.DetectDocumentType(strings.Join(texts, "\n"), doc.Filename)
	chunks := chunker.Split(pages, cfg)
	if len(chunks) == 0 {
		return nil, cfg, Permanent(fmt.Errorf("%w: no text to chunk", extractor.ErrUnparseable))
	}
	if doc.TotalChunks != nil && *doc.TotalChunks != len(chunks) {
		return nil, cfg, Permanent(fmt.Errorf("chunk count changed from %d to %d since the last run; retry the document", *doc.TotalChunks, len(chunks)))
	}
	if err := s.docs.SetTotalChunks(dbctx.Context{Ctx: ctx}, doc.ID, len(chunks)); err != nil {
		return nil, cfg, fmt.Errorf("set total chunks: %w", err)
	}
	total := len(chunks)
	doc.TotalChunks = &total
	s.publish(ctx, doc, doc.ProcessedChunks, "")
	return chunks, cfg, nil
}

// dispatch embeds every chunk not yet stored through a bounded pool. The cancel flag is checked
// before each dispatch and again when a queued job gets its worker slot; the first job error cancels
// the rest and is returned.
func (s *service) dispatch(ctx context.Context, rn *run, doc *types.Document, chunks []chunker.Chunk, cfg chunker.Config) (bool, error) {
	stored, err := s.embs.ChunkIndexesByDocument(dbctx.Context{Ctx: ctx}, doc.ID)
	if err != nil {
		return false, fmt.Errorf("list stored chunks: %w", err)
	}
	have := make(map[int]bool, len(stored))
	for _, i := range stored {
		have[i] = true
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return false, err
	}

	var processed atomic.Int64
	processed.Store(int64(doc.ProcessedChunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	var cancelled atomic.Bool
	for i := range chunks {
		c := chunks[i]
		if have[c.Index] {
			continue
		}
		if rn.cancelRequested() {
			cancelled.Store(true)
			break
		}
		if gctx.Err() != nil {
			break
		}
		// g.Go parks here until a worker slot frees, so the job re-checks both flags once it runs
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if rn.cancelRequested() {
				cancelled.Store(true)
				return nil
			}
			return s.embedChunk(gctx, doc, c, len(chunks), cfg.DocumentType, cfgJSON, &processed)
		})
	}
	err = g.Wait()
	return cancelled.Load(), err
}

func (s *service) embedChunk(ctx context.Context, doc *types.Document, c chunker.Chunk, total int, docType chunker.DocumentType, cfgJSON []byte, processed *atomic.Int64) error {
	ctx, span := observability.Tracer().Start(ctx, "ingestion.embed_chunk",
		trace.WithAttributes(attribute.Int("chunk_index", c.Index), attribute.Int("word_count", c.WordCount)))
	defer span.End()
	metrics := observability.Current()

	var vec []float32
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		vecs, err := s.embedder.Embed(ctx, []string{c.Content})
		if err != nil {
			return err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return Permanent(fmt.Errorf("embedder returned %d vectors for one input", len(vecs)))
		}
		vec = vecs[0]
		return nil
	}, func(err error, retryable bool) {
		metrics.ObserveChunkAttempt(ctx, true, retryable)
		s.log.Warn("Chunk embedding attempt failed", "document_id", doc.ID, "chunk_index", c.Index, "retryable", retryable, "error", err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return fmt.Errorf("chunk %d: embed: %w", c.Index, err)
	}
	metrics.ObserveChunkAttempt(ctx, false, false)

	source := types.EmbeddingSourceUpload
	if doc.IsSystemDocument {
		source = types.EmbeddingSourceSystem
	}
	docID := doc.ID
	emb := &types.Embedding{
		DocumentID:     &docID,
		UserID:         doc.OwnerUserID,
		Source:         source,
		DocumentType:   string(docType),
		Content:        c.Content,
		Vector:         pgvector.NewVector(vec),
		Model:          s.embedder.Model(),
		ChunkIndex:     c.Index,
		TotalChunks:    total,
		Section:        c.Section,
		SectionLevel:   c.SectionLevel,
		StartLine:      c.StartLine,
		EndLine:        c.EndLine,
		PageStart:      c.PageStart,
		PageEnd:        c.PageEnd,
		HasTable:       c.HasTable,
		HasImage:       c.HasImage,
		WordCount:      c.WordCount,
		ChunkingConfig: datatypes.JSON(cfgJSON),
	}

	err = s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			dbc := dbctx.Context{Ctx: ctx, Tx: tx}
			if err := s.embs.Create(dbc, emb); err != nil {
				return err
			}
			ok, err := s.docs.IncrementProcessed(dbc, doc.ID)
			if err != nil {
				return err
			}
			if !ok {
				return Permanent(fmt.Errorf("processed count already at total"))
			}
			return nil
		})
	}, func(err error, retryable bool) {
		s.log.Warn("Chunk store attempt failed", "document_id", doc.ID, "chunk_index", c.Index, "retryable", retryable, "error", err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return fmt.Errorf("chunk %d: store: %w", c.Index, err)
	}

	n := processed.Add(1)
	snapshot := *doc
	snapshot.Status = types.DocumentProcessing
	s.publish(ctx, &snapshot, int(n), "")
	return nil
}

func (s *service) finishFailed(ctx context.Context, log *logger.Logger, doc *types.Document, cause error) {
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	ok, err := s.docs.Transition(dbctx.Context{Ctx: ctx}, doc.ID,
		[]types.DocumentStatus{types.DocumentPending, types.DocumentProcessing}, types.DocumentFailed,
		map[string]interface{}{"processing_error": msg})
	if err != nil {
		log.Error("Could not mark document failed", "cause", msg, "error", err)
		return
	}
	if !ok {
		log.Warn("Document left PROCESSING before it could be marked failed", "cause", msg)
		return
	}
	s.settled(ctx, log, doc.ID, msg)
}

func (s *service) finishCancelled(ctx context.Context, log *logger.Logger, doc *types.Document) {
	ok, err := s.docs.Transition(dbctx.Context{Ctx: ctx}, doc.ID,
		[]types.DocumentStatus{types.DocumentPending, types.DocumentProcessing}, types.DocumentCancelled, nil)
	if err != nil {
		log.Error("Could not mark document cancelled", "error", err)
		return
	}
	if ok {
		s.settled(ctx, log, doc.ID, "")
	}
}

func (s *service) finishCompleted(ctx context.Context, log *logger.Logger, doc *types.Document) {
	dbc := dbctx.Context{Ctx: ctx}
	cur, err := s.docs.GetByID(dbc, doc.ID)
	if err != nil || cur == nil {
		log.Error("Could not reload document before completing", "error", err)
		return
	}
	if cur.TotalChunks == nil || cur.ProcessedChunks != *cur.TotalChunks {
		total := -1
		if cur.TotalChunks != nil {
			total = *cur.TotalChunks
		}
		s.finishFailed(ctx, log, cur, fmt.Errorf("processed %d of %d chunks", cur.ProcessedChunks, total))
		return
	}
	ok, err := s.docs.Transition(dbc, doc.ID, []types.DocumentStatus{types.DocumentProcessing}, types.DocumentCompleted,
		map[string]interface{}{"completed_at": s.now()})
	if err != nil {
		log.Error("Could not mark document completed", "error", err)
		return
	}
	if ok {
		s.settled(ctx, log, doc.ID, "")
	}
}

// settled reports a terminal status that this process just wrote.
func (s *service) settled(ctx context.Context, log *logger.Logger, id uuid.UUID, errText string) {
	doc, err := s.docs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil || doc == nil {
		log.Warn("Could not reload settled document", "error", err)
		return
	}
	log.Info("Document settled", "status", doc.Status, "processed_chunks", doc.ProcessedChunks, "total_chunks", pointers.Deref(doc.TotalChunks), "error", errText)
	s.observeOutcome(ctx, doc)
	s.publish(ctx, doc, doc.ProcessedChunks, errText)
}

func (s *service) observeOutcome(ctx context.Context, doc *types.Document) {
	observability.Current().ObserveDocumentOutcome(ctx, string(doc.Status))
}
