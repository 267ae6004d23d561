package materials

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-rag/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/pkg/dbctx"
)

func TestEmbeddingRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewEmbeddingRepo(db, testutil.Logger(t))

	doc := testutil.SeedDocument(t, ctx, tx, "hash-"+uuid.NewString(), types.DocumentProcessing)
	e0 := testutil.SeedEmbedding(t, ctx, tx, doc.ID, 0, "Intro")
	testutil.SeedEmbedding(t, ctx, tx, doc.ID, 2, "Methods")
	testutil.SeedEmbedding(t, ctx, tx, doc.ID, 1, "Intro")

	dup := &types.Embedding{DocumentID: &doc.ID, Content: "dup", ChunkIndex: 1, TotalChunks: 3}
	if err := repo.Create(dbc.WithTx(tx.SavePoint("dup")), dup); err == nil {
		t.Fatalf("expected unique (document_id, chunk_index) violation")
	}
	tx.RollbackTo("dup")

	idx, err := repo.ChunkIndexesByDocument(dbc, doc.ID)
	if err != nil {
		t.Fatalf("ChunkIndexesByDocument: %v", err)
	}
	if len(idx) != 3 || idx[0] != 0 || idx[1] != 1 || idx[2] != 2 {
		t.Fatalf("ChunkIndexesByDocument: got %v", idx)
	}

	rows, err := repo.ListByDocument(dbc, doc.ID)
	if err != nil || len(rows) != 3 {
		t.Fatalf("ListByDocument: err=%v len=%d", err, len(rows))
	}
	for i, row := range rows {
		if row.ChunkIndex != i {
			t.Fatalf("ListByDocument order: position %d has chunk %d", i, row.ChunkIndex)
		}
	}

	if got, err := repo.GetByIDs(dbc, []uuid.UUID{e0.ID}); err != nil || len(got) != 1 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(got))
	}

	stats, err := repo.StatsByDocument(dbc, doc.ID)
	if err != nil {
		t.Fatalf("StatsByDocument: %v", err)
	}
	if stats.ChunkCount != 3 || stats.AvgWordCount != 2 {
		t.Fatalf("StatsByDocument: %+v", stats)
	}
	if len(stats.Sections) != 2 || stats.Sections[0] != "Intro" || stats.Sections[1] != "Methods" {
		t.Fatalf("StatsByDocument sections: %v", stats.Sections)
	}

	if err := repo.DeleteByDocumentIDs(dbc, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("DeleteByDocumentIDs: %v", err)
	}
	if n, err := repo.CountByDocument(dbc, doc.ID); err != nil || n != 0 {
		t.Fatalf("CountByDocument after delete: n=%d err=%v", n, err)
	}
}
