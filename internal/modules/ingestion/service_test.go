package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	"github.com/yungbote/neurobridge-rag/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/chunker"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/extractor"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
	"github.com/yungbote/neurobridge-rag/internal/platform/contentstore"
	"github.com/yungbote/neurobridge-rag/internal/platform/openai"
)

const threeSections = "# Alpha\none two three four\n\n# Beta\nfive six seven eight\n\n# Gamma\nnine ten eleven twelve\n"

type fakeEmbedder struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int, text string) error
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	n := int(f.calls.Add(1))
	if f.fn != nil {
		if err := f.fn(ctx, n, inputs[0]); err != nil {
			return nil, err
		}
	}
	return [][]float32{{0.1, 0.2, 0.3}}, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.ProgressEvent
}

func (r *recordingNotifier) Publish(_ context.Context, ev types.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) snapshot() []types.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ProgressEvent(nil), r.events...)
}

type harness struct {
	svc      Service
	repos    repos.Set
	store    contentstore.Store
	notifier *recordingNotifier
	owner    uuid.UUID
}

func testConfig() Config {
	return Config{
		Workers: 1,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			CallTimeout: 2 * time.Second,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		Chunking: chunker.Config{MaxWords: 20, MinWords: 0},
	}
}

func newHarness(t *testing.T, emb Embedder, cfg Config) *harness {
	t.Helper()
	db := testutil.SQLite(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	store, err := contentstore.NewLocalStore(t.TempDir(), log)
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	svc, err := NewService(Deps{
		DB:         db,
		Log:        log,
		Documents:  set.Documents,
		Embeddings: set.Embeddings,
		Store:      store,
		Extractor:  extractor.New(log, 0),
		Embedder:   emb,
		Notifier:   notifier,
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &harness{svc: svc, repos: set, store: store, notifier: notifier, owner: uuid.New()}
}

func (h *harness) upload(text string) Upload {
	owner := h.owner
	return Upload{Data: []byte(text), Filename: "notes.md", MimeType: "text/markdown", OwnerUserID: &owner}
}

func (h *harness) ingestAndWait(t *testing.T, in Upload) *types.Document {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	handle, err := h.svc.IngestDocument(ctx, in)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))
	doc, err := h.svc.GetDocument(ctx, handle.Document.ID)
	require.NoError(t, err)
	return doc
}

func (h *harness) embeddings(t *testing.T, docID uuid.UUID) []*types.Embedding {
	t.Helper()
	out, err := h.repos.Embeddings.ListByDocument(dbctx.Context{Ctx: context.Background()}, docID)
	require.NoError(t, err)
	return out
}

func TestIngestDocumentCompletesThreeChunks(t *testing.T) {
	emb := &fakeEmbedder{}
	h := newHarness(t, emb, testConfig())

	doc := h.ingestAndWait(t, h.upload(threeSections))
	require.Equal(t, types.DocumentCompleted, doc.Status)
	require.NotNil(t, doc.TotalChunks)
	assert.Equal(t, 3, *doc.TotalChunks)
	assert.Equal(t, 3, doc.ProcessedChunks)
	assert.Nil(t, doc.ProcessingError)
	assert.NotNil(t, doc.StartedAt)
	assert.NotNil(t, doc.CompletedAt)
	assert.Equal(t, int32(3), emb.calls.Load())

	embs := h.embeddings(t, doc.ID)
	require.Len(t, embs, 3)
	for i, e := range embs {
		assert.Equal(t, i, e.ChunkIndex)
		assert.Equal(t, 3, e.TotalChunks)
		assert.Equal(t, "fake-embed", e.Model)
		assert.Equal(t, types.EmbeddingSourceUpload, e.Source)
		require.NotNil(t, e.UserID)
		assert.Equal(t, h.owner, *e.UserID)
		assert.Equal(t, len(strings.Fields(e.Content)), e.WordCount)
		assert.Contains(t, string(e.ChunkingConfig), `"max_words":20`)
	}
	assert.Equal(t, "Alpha", embs[0].Section)
	assert.Equal(t, "Beta", embs[1].Section)
	assert.Equal(t, "Gamma", embs[2].Section)
	assert.Less(t, embs[0].EndLine, embs[1].StartLine)
	assert.Less(t, embs[1].EndLine, embs[2].StartLine)
}

func TestIngestDocumentDeduplicatesByContentHash(t *testing.T) {
	emb := &fakeEmbedder{}
	h := newHarness(t, emb, testConfig())

	first := h.ingestAndWait(t, h.upload(threeSections))
	require.Equal(t, types.DocumentCompleted, first.Status)

	handle, err := h.svc.IngestDocument(context.Background(), h.upload(threeSections))
	require.NoError(t, err)
	assert.True(t, handle.Deduplicated)
	assert.Equal(t, first.ID, handle.Document.ID)
	assert.Equal(t, types.DocumentCompleted, handle.Document.Status)
	select {
	case <-handle.Done():
	default:
		t.Fatal("handle for a completed document should already be done")
	}
	assert.Equal(t, int32(3), emb.calls.Load())
}

func TestIngestDocumentConcurrentUploadsShareOneDocument(t *testing.T) {
	emb := &fakeEmbedder{}
	h := newHarness(t, emb, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 5
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hd, err := h.svc.IngestDocument(ctx, h.upload(threeSections))
			assert.NoError(t, err)
			handles[i] = hd
		}(i)
	}
	wg.Wait()

	id := handles[0].Document.ID
	for _, hd := range handles {
		require.NotNil(t, hd)
		assert.Equal(t, id, hd.Document.ID)
		require.NoError(t, hd.Wait(ctx))
	}
	require.Eventually(t, func() bool {
		d, err := h.svc.GetDocument(ctx, id)
		return err == nil && d.Status == types.DocumentCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, h.embeddings(t, id), 3)
	assert.Equal(t, int32(3), emb.calls.Load())
}

func TestIngestDocumentRetriesTransientErrors(t *testing.T) {
	emb := &fakeEmbedder{fn: func(_ context.Context, call int, _ string) error {
		if call <= 2 {
			return &openai.HTTPError{StatusCode: 503, Body: "overloaded"}
		}
		return nil
	}}
	h := newHarness(t, emb, testConfig())

	doc := h.ingestAndWait(t, h.upload(threeSections))
	assert.Equal(t, types.DocumentCompleted, doc.Status)
	assert.Equal(t, 3, doc.ProcessedChunks)
	assert.Equal(t, int32(5), emb.calls.Load())
}

func TestIngestDocumentTreatsTimeoutsAsRetryable(t *testing.T) {
	emb := &fakeEmbedder{fn: func(ctx context.Context, call int, _ string) error {
		if call == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	cfg := testConfig()
	cfg.Retry.CallTimeout = 50 * time.Millisecond
	h := newHarness(t, emb, cfg)

	doc := h.ingestAndWait(t, h.upload(threeSections))
	assert.Equal(t, types.DocumentCompleted, doc.Status)
	assert.Equal(t, int32(4), emb.calls.Load())
}

func TestIngestDocumentFailsOnPermanentRejection(t *testing.T) {
	emb := &fakeEmbedder{fn: func(_ context.Context, _ int, text string) error {
		if strings.Contains(text, "seven") {
			return &openai.HTTPError{StatusCode: 400, Body: "content rejected"}
		}
		return nil
	}}
	h := newHarness(t, emb, testConfig())

	doc := h.ingestAndWait(t, h.upload(threeSections))
	require.Equal(t, types.DocumentFailed, doc.Status)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, "400")
	assert.Contains(t, *doc.ProcessingError, "chunk 1")
	assert.Equal(t, 1, doc.ProcessedChunks)
	assert.Nil(t, doc.CompletedAt)
	// no retries for a rejection, and the third chunk never starts
	assert.Equal(t, int32(2), emb.calls.Load())
	assert.Len(t, h.embeddings(t, doc.ID), 1)
}

func TestIngestDocumentFailsAfterRetryBudget(t *testing.T) {
	emb := &fakeEmbedder{fn: func(context.Context, int, string) error {
		return &openai.HTTPError{StatusCode: 503, Body: "down"}
	}}
	h := newHarness(t, emb, testConfig())

	doc := h.ingestAndWait(t, h.upload(threeSections))
	require.Equal(t, types.DocumentFailed, doc.Status)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, "after 3 attempts")
	assert.Equal(t, 0, doc.ProcessedChunks)
	assert.Equal(t, int32(3), emb.calls.Load())
}

func TestIngestDocumentFailsWhenNothingToChunk(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, testConfig())

	doc := h.ingestAndWait(t, h.upload("   \n\n\t\n"))
	require.Equal(t, types.DocumentFailed, doc.Status)
	require.NotNil(t, doc.ProcessingError)
	assert.Contains(t, *doc.ProcessingError, "no text to chunk")

	owner := h.owner
	bin := h.ingestAndWait(t, Upload{Data: []byte{0x00, 0x01, 0x02}, Filename: "blob.bin", MimeType: "application/octet-stream", OwnerUserID: &owner})
	require.Equal(t, types.DocumentFailed, bin.Status)
	require.NotNil(t, bin.ProcessingError)
	assert.Contains(t, *bin.ProcessingError, "unsupported")
}

func TestIngestDocumentValidatesInput(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, testConfig())
	ctx := context.Background()

	_, err := h.svc.IngestDocument(ctx, Upload{Filename: "a.txt", OwnerUserID: &h.owner})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	_, err = h.svc.IngestDocument(ctx, Upload{Data: []byte("x"), OwnerUserID: &h.owner})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	_, err = h.svc.IngestDocument(ctx, Upload{Data: []byte("x"), Filename: "a.txt"})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	handle, err := h.svc.IngestDocument(ctx, Upload{Data: []byte("system words here"), Filename: "a.txt", IsSystemDocument: true})
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))
	embs := h.embeddings(t, handle.Document.ID)
	require.Len(t, embs, 1)
	assert.Equal(t, types.EmbeddingSourceSystem, embs[0].Source)
	assert.Nil(t, embs[0].UserID)
}

func TestCancelDocumentStopsBetweenDispatches(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	emb := &fakeEmbedder{fn: func(_ context.Context, call int, _ string) error {
		if call == 1 {
			close(started)
			<-release
		}
		return nil
	}}
	h := newHarness(t, emb, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := threeSections + "\n# Delta\nthirteen fourteen fifteen\n"
	handle, err := h.svc.IngestDocument(ctx, h.upload(text))
	require.NoError(t, err)

	<-started
	doc, err := h.svc.CancelDocument(ctx, handle.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentProcessing, doc.Status)
	close(release)
	require.NoError(t, handle.Wait(ctx))

	doc, err = h.svc.GetDocument(ctx, handle.Document.ID)
	require.NoError(t, err)
	require.Equal(t, types.DocumentCancelled, doc.Status)
	assert.Nil(t, doc.ProcessingError)
	assert.Nil(t, doc.CompletedAt)
	require.NotNil(t, doc.TotalChunks)
	assert.Equal(t, 4, *doc.TotalChunks)
	// the second job was already queued behind the single worker when the cancel landed
	assert.Equal(t, int32(1), emb.calls.Load())
	assert.Equal(t, 1, doc.ProcessedChunks)
	assert.Len(t, h.embeddings(t, doc.ID), 1)

	_, err = h.svc.ResumeDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
}

func TestFailedDocumentIsReingestedFromScratch(t *testing.T) {
	var reject atomic.Bool
	reject.Store(true)
	emb := &fakeEmbedder{fn: func(_ context.Context, _ int, text string) error {
		if reject.Load() && strings.Contains(text, "nine") {
			return &openai.HTTPError{StatusCode: 422, Body: "bad input"}
		}
		return nil
	}}
	h := newHarness(t, emb, testConfig())

	failed := h.ingestAndWait(t, h.upload(threeSections))
	require.Equal(t, types.DocumentFailed, failed.Status)
	assert.Equal(t, 2, failed.ProcessedChunks)

	reject.Store(false)
	again := h.ingestAndWait(t, h.upload(threeSections))
	assert.Equal(t, failed.ID, again.ID)
	assert.Equal(t, types.DocumentCompleted, again.Status)
	assert.Equal(t, 3, again.ProcessedChunks)
	assert.Nil(t, again.ProcessingError)
	assert.Len(t, h.embeddings(t, again.ID), 3)
}

func TestRetryDocument(t *testing.T) {
	var reject atomic.Bool
	reject.Store(true)
	emb := &fakeEmbedder{fn: func(context.Context, int, string) error {
		if reject.Load() {
			return &openai.HTTPError{StatusCode: 400, Body: "no"}
		}
		return nil
	}}
	h := newHarness(t, emb, testConfig())
	ctx := context.Background()

	doc := h.ingestAndWait(t, h.upload(threeSections))
	require.Equal(t, types.DocumentFailed, doc.Status)

	reject.Store(false)
	handle, err := h.svc.RetryDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))
	doc, err = h.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentCompleted, doc.Status)

	_, err = h.svc.RetryDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
	_, err = h.svc.CancelDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))
}

func TestResetStuckDocumentsResumesWithoutReembedding(t *testing.T) {
	emb := &fakeEmbedder{}
	h := newHarness(t, emb, testConfig())
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	key := contentstore.KeyFor("stuckhash", "notes.md")
	require.NoError(t, h.store.Put(ctx, key, []byte(threeSections), "text/markdown"))
	total := 3
	started := time.Now().UTC()
	doc := &types.Document{
		OwnerUserID:     &h.owner,
		Filename:        "notes.md",
		ContentHash:     "stuckhash",
		SizeBytes:       int64(len(threeSections)),
		MimeType:        "text/markdown",
		StorageKey:      key,
		Status:          types.DocumentProcessing,
		TotalChunks:     &total,
		ProcessedChunks: 1,
		StartedAt:       &started,
	}
	require.NoError(t, h.repos.Documents.Create(dbc, doc))
	docID := doc.ID
	require.NoError(t, h.repos.Embeddings.Create(dbc, &types.Embedding{
		DocumentID: &docID, Content: "# Alpha\none two three four", ChunkIndex: 0, TotalChunks: 3,
		StartLine: 1, EndLine: 2, PageStart: 1, PageEnd: 1, WordCount: 6,
	}))

	n, err := h.svc.ResetStuckDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		d, err := h.svc.GetDocument(ctx, docID)
		return err == nil && d.Status == types.DocumentCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, err := h.svc.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ProcessedChunks)
	assert.Equal(t, int32(2), emb.calls.Load())
	assert.Len(t, h.embeddings(t, docID), 3)
}

func TestProgressEventsAreMonotonic(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, testConfig())
	doc := h.ingestAndWait(t, h.upload(threeSections))
	require.Equal(t, types.DocumentCompleted, doc.Status)

	events := h.notifier.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, types.DocumentPending, events[0].Status)
	assert.Equal(t, types.DocumentCompleted, events[len(events)-1].Status)
	last := -1
	for _, ev := range events {
		assert.Equal(t, doc.ID, ev.DocumentID)
		assert.GreaterOrEqual(t, ev.ProcessedChunks, last)
		if ev.TotalChunks != nil {
			assert.LessOrEqual(t, ev.ProcessedChunks, *ev.TotalChunks)
		}
		last = ev.ProcessedChunks
	}
	assert.Equal(t, 3, last)
}

func TestDocumentStatsAndDelete(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, testConfig())
	ctx := context.Background()
	doc := h.ingestAndWait(t, h.upload(threeSections))

	stats, err := h.svc.GetDocumentStats(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Chunks.ChunkCount)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, stats.Chunks.Sections)
	assert.InDelta(t, 1.0, stats.Progress, 1e-9)
	assert.InDelta(t, 6.0, stats.Chunks.AvgWordCount, 1e-9)

	docs, err := h.svc.ListDocuments(ctx, h.owner, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, h.svc.DeleteDocument(ctx, doc.ID))
	_, err = h.svc.GetDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Empty(t, h.embeddings(t, doc.ID))
	_, err = h.store.Get(ctx, doc.StorageKey)
	assert.True(t, errors.Is(err, contentstore.ErrNotFound))

	err = h.svc.DeleteDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound), fmt.Sprint(err))
}
