package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/chunker"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/extractor"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
	"github.com/yungbote/neurobridge-rag/internal/platform/contentstore"
	"github.com/yungbote/neurobridge-rag/internal/platform/envutil"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// Embedder turns texts into vectors. openai.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
}

type Upload struct {
	Data             []byte
	Filename         string
	MimeType         string
	OwnerUserID      *uuid.UUID
	IsSystemDocument bool
}

// Handle is returned by every call that may start a driver. Done closes when that driver exits; a
// handle for a document with no driver in this process is already done and callers should poll
// GetDocument instead.
type Handle struct {
	Document     *types.Document
	Deduplicated bool
	done         <-chan struct{}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type DocumentStats struct {
	Document *types.Document      `json:"document"`
	Progress float64              `json:"progress"`
	Chunks   repos.EmbeddingStats `json:"chunks"`
}

type Service interface {
	IngestDocument(ctx context.Context, in Upload) (*Handle, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	ListDocuments(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Document, error)
	GetDocumentStats(ctx context.Context, id uuid.UUID) (*DocumentStats, error)
	CancelDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	ResumeDocument(ctx context.Context, id uuid.UUID) (*Handle, error)
	RetryDocument(ctx context.Context, id uuid.UUID) (*Handle, error)
	ResetStuckDocuments(ctx context.Context) (int, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	// Close stops every driver and waits for them. Interrupted documents stay PROCESSING and are
	// picked up by ResetStuckDocuments on the next start.
	Close(ctx context.Context) error
}

type Config struct {
	Workers  int
	MaxPages int
	Retry    RetryPolicy
	Chunking chunker.Config
}

func ConfigFromEnv(log *logger.Logger) Config {
	return Config{
		Workers:  envutil.Int("INGEST_WORKERS", 4, log),
		MaxPages: envutil.Int("INGEST_MAX_PAGES", 0, log),
		Retry: RetryPolicy{
			MaxAttempts: envutil.Int("INGEST_EMBED_MAX_ATTEMPTS", 3, log),
			CallTimeout: envutil.Duration("INGEST_EMBED_TIMEOUT", 30*time.Second, time.Second, log),
			BaseDelay:   envutil.Duration("INGEST_RETRY_BASE_DELAY", 500*time.Millisecond, time.Millisecond, log),
			MaxDelay:    envutil.Duration("INGEST_RETRY_MAX_DELAY", 10*time.Second, time.Millisecond, log),
		},
		Chunking: chunker.Config{
			MaxWords: envutil.Int("INGEST_CHUNK_MAX_WORDS", chunker.DefaultMaxWords, log),
			MinWords: envutil.Int("INGEST_CHUNK_MIN_WORDS", chunker.DefaultMinWords, log),
		},
	}
}

type Deps struct {
	DB         *gorm.DB
	Log        *logger.Logger
	Documents  repos.DocumentRepo
	Embeddings repos.EmbeddingRepo
	Store      contentstore.Store
	Extractor  extractor.Extractor
	Embedder   Embedder
	// Notifier is optional.
	Notifier ProgressNotifier
}

type service struct {
	db        *gorm.DB
	log       *logger.Logger
	docs      repos.DocumentRepo
	embs      repos.EmbeddingRepo
	store     contentstore.Store
	extractor extractor.Extractor
	embedder  Embedder
	notifier  ProgressNotifier
	cfg       Config
	now       func() time.Time

	reg *registry

	ctx    context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(deps Deps, cfg Config) (Service, error) {
	if deps.DB == nil || deps.Log == nil || deps.Documents == nil || deps.Embeddings == nil ||
		deps.Store == nil || deps.Extractor == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("ingestion: missing deps")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &service{
		db:        deps.DB,
		log:       deps.Log.With("service", "IngestionService"),
		docs:      deps.Documents,
		embs:      deps.Embeddings,
		store:     deps.Store,
		extractor: deps.Extractor,
		embedder:  deps.Embedder,
		notifier:  notifier,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		reg:       newRegistry(),
		ctx:       ctx,
		stop:      stop,
	}, nil
}

var closedDone = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func doneOf(rn *run) <-chan struct{} {
	if rn == nil {
		return closedDone
	}
	return rn.done
}

func (s *service) IngestDocument(ctx context.Context, in Upload) (*Handle, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty document", errs.ErrInvalidArgument)
	}
	filename := strings.TrimSpace(filepath.Base(strings.TrimSpace(in.Filename)))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: missing filename", errs.ErrInvalidArgument)
	}
	if !in.IsSystemDocument && (in.OwnerUserID == nil || *in.OwnerUserID == uuid.Nil) {
		return nil, fmt.Errorf("%w: user documents need an owner", errs.ErrInvalidArgument)
	}

	sum := sha256.Sum256(in.Data)
	hash := hex.EncodeToString(sum[:])
	dbc := dbctx.Context{Ctx: ctx}

	existing, err := s.docs.GetByContentHash(dbc, hash)
	if err != nil {
		return nil, fmt.Errorf("ingest: lookup by hash: %w", err)
	}
	if existing != nil {
		return s.dedup(ctx, existing, in.Data)
	}

	key := contentstore.KeyFor(hash, filename)
	if err := s.putContent(ctx, key, in.Data, in.MimeType); err != nil {
		return nil, fmt.Errorf("ingest: store content: %w", err)
	}

	var owner *uuid.UUID
	if in.OwnerUserID != nil && *in.OwnerUserID != uuid.Nil {
		o := *in.OwnerUserID
		owner = &o
	}
	doc := &types.Document{
		OwnerUserID:      owner,
		IsSystemDocument: in.IsSystemDocument,
		Filename:         filename,
		ContentHash:      hash,
		SizeBytes:        int64(len(in.Data)),
		MimeType:         strings.TrimSpace(in.MimeType),
		StorageKey:       key,
		Status:           types.DocumentPending,
	}
	if err := s.docs.Create(dbc, doc); err != nil {
		// a concurrent upload of the same bytes won the unique hash
		if again, gerr := s.docs.GetByContentHash(dbc, hash); gerr == nil && again != nil {
			return s.dedup(ctx, again, in.Data)
		}
		return nil, fmt.Errorf("ingest: create document: %w", err)
	}

	ownerID := ""
	if owner != nil {
		ownerID = owner.String()
	}
	s.log.Info("Document accepted", "document_id", doc.ID, "filename", filename, "size_bytes", doc.SizeBytes, "owner_user_id", ownerID, "system", in.IsSystemDocument)
	s.publish(ctx, doc, 0, "")
	rn := s.launch(doc.ID, false)
	return &Handle{Document: doc, done: doneOf(rn)}, nil
}

func (s *service) dedup(ctx context.Context, doc *types.Document, data []byte) (*Handle, error) {
	switch doc.Status {
	case types.DocumentCompleted:
		return &Handle{Document: doc, Deduplicated: true, done: closedDone}, nil
	case types.DocumentPending, types.DocumentProcessing:
		return &Handle{Document: doc, Deduplicated: true, done: doneOf(s.reg.get(doc.ID))}, nil
	case types.DocumentFailed, types.DocumentCancelled:
		if err := s.putContent(ctx, doc.StorageKey, data, doc.MimeType); err != nil {
			return nil, fmt.Errorf("ingest: store content: %w", err)
		}
		h, _, err := s.restart(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		s.log.Info("Re-ingesting document", "document_id", doc.ID, "previous_status", doc.Status)
		return h, nil
	default:
		return nil, fmt.Errorf("ingest: document %s has unknown status %q", doc.ID, doc.Status)
	}
}

// restart resets a FAILED or CANCELLED document and launches a driver. won is false when another
// caller reset it first; the handle then follows whatever driver that caller started.
func (s *service) restart(ctx context.Context, id uuid.UUID) (*Handle, bool, error) {
	won := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		ok, err := s.docs.ResetForRetry(dbc, id)
		if err != nil || !ok {
			return err
		}
		won = true
		return s.embs.DeleteByDocumentIDs(dbc, []uuid.UUID{id})
	})
	if err != nil {
		return nil, false, fmt.Errorf("ingest: reset document: %w", err)
	}
	doc, err := s.docs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return nil, false, fmt.Errorf("%w: document %s", errs.ErrNotFound, id)
	}
	if !won {
		return &Handle{Document: doc, Deduplicated: true, done: doneOf(s.reg.get(id))}, false, nil
	}
	s.publish(ctx, doc, 0, "")
	rn := s.launch(id, false)
	return &Handle{Document: doc, Deduplicated: true, done: doneOf(rn)}, true, nil
}

func (s *service) putContent(ctx context.Context, key string, data []byte, mimeType string) error {
	return s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return s.store.Put(ctx, key, data, mimeType)
	}, func(err error, retryable bool) {
		s.log.Warn("Content store write failed", "key", key, "retryable", retryable, "error", err)
	})
}

// launch starts a driver for id unless one is already live, in which case that one is returned.
// Returns nil once the service is closed.
func (s *service) launch(id uuid.UUID, resume bool) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	rn, fresh := s.reg.acquire(id)
	if !fresh {
		return rn
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.reg.release(rn)
		s.drive(rn, resume)
	}()
	return rn
}

func (s *service) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	doc, err := s.docs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", errs.ErrNotFound, id)
	}
	return doc, nil
}

func (s *service) ListDocuments(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Document, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing owner", errs.ErrInvalidArgument)
	}
	return s.docs.ListByOwner(dbctx.Context{Ctx: ctx}, ownerID, limit)
}

func (s *service) GetDocumentStats(ctx context.Context, id uuid.UUID) (*DocumentStats, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.embs.StatsByDocument(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	out := &DocumentStats{Document: doc, Progress: doc.Progress()}
	if st != nil {
		out.Chunks = *st
	}
	return out, nil
}

func (s *service) CancelDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case types.DocumentCancelled:
		return doc, nil
	case types.DocumentCompleted, types.DocumentFailed:
		return nil, fmt.Errorf("%w: document is %s", errs.ErrInvalidTransition, doc.Status)
	case types.DocumentPending, types.DocumentProcessing:
	}

	dbc := dbctx.Context{Ctx: ctx}
	from := []types.DocumentStatus{types.DocumentPending, types.DocumentProcessing}
	if rn := s.reg.get(id); rn != nil {
		rn.requestCancel()
		// a live driver past PENDING records CANCELLED itself at its next dispatch
		from = []types.DocumentStatus{types.DocumentPending}
	}
	ok, err := s.docs.Transition(dbc, id, from, types.DocumentCancelled, nil)
	if err != nil {
		return nil, err
	}
	doc, err = s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		s.log.Info("Document cancelled", "document_id", id)
		s.observeOutcome(ctx, doc)
		s.publish(ctx, doc, doc.ProcessedChunks, "")
	}
	return doc, nil
}

func (s *service) ResumeDocument(ctx context.Context, id uuid.UUID) (*Handle, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentPending && doc.Status != types.DocumentProcessing {
		return nil, fmt.Errorf("%w: cannot resume a %s document", errs.ErrInvalidTransition, doc.Status)
	}
	rn := s.launch(id, true)
	return &Handle{Document: doc, done: doneOf(rn)}, nil
}

func (s *service) RetryDocument(ctx context.Context, id uuid.UUID) (*Handle, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentFailed && doc.Status != types.DocumentCancelled {
		return nil, fmt.Errorf("%w: cannot retry a %s document", errs.ErrInvalidTransition, doc.Status)
	}
	h, _, err := s.restart(ctx, id)
	if err != nil {
		return nil, err
	}
	h.Deduplicated = false
	return h, nil
}

func (s *service) ResetStuckDocuments(ctx context.Context) (int, error) {
	docs, err := s.docs.ListByStatuses(dbctx.Context{Ctx: ctx}, []types.DocumentStatus{types.DocumentPending, types.DocumentProcessing})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		if d == nil || s.reg.get(d.ID) != nil {
			continue
		}
		if s.launch(d.ID, true) != nil {
			n++
		}
	}
	if n > 0 {
		s.log.Info("Resumed interrupted documents", "count", n)
	}
	return n, nil
}

func (s *service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if rn := s.reg.get(id); rn != nil {
		rn.requestCancel()
		select {
		case <-rn.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.embs.DeleteByDocumentIDs(dbc, []uuid.UUID{id}); err != nil {
			return err
		}
		return s.docs.FullDeleteByIDs(dbc, []uuid.UUID{id})
	})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.store.Delete(ctx, doc.StorageKey); err != nil {
		s.log.Warn("Stored content not removed", "document_id", id, "key", doc.StorageKey, "error", err)
	}
	s.log.Info("Document deleted", "document_id", id)
	return nil
}

func (s *service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
