package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/domain/learning"
)

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, hash string, status types.DocumentStatus) *types.Document {
	tb.Helper()
	d := &types.Document{
		ID:          uuid.New(),
		Filename:    "notes.md",
		ContentHash: hash,
		SizeBytes:   42,
		MimeType:    "text/markdown",
		StorageKey:  "documents/" + hash,
		Status:      status,
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

func SeedEmbedding(tb testing.TB, ctx context.Context, tx *gorm.DB, docID uuid.UUID, index int, section string) *types.Embedding {
	tb.Helper()
	e := &types.Embedding{
		ID:          uuid.New(),
		DocumentID:  &docID,
		Content:     fmt.Sprintf("chunk %d", index),
		Vector:      pgvector.NewVector([]float32{0.1, 0.2, 0.3}),
		ChunkIndex:  index,
		TotalChunks: index + 1,
		Section:     section,
		StartLine:   index*10 + 1,
		EndLine:     index*10 + 10,
		PageStart:   1,
		PageEnd:     1,
		WordCount:   2,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed embedding: %v", err)
	}
	return e
}

func SeedTopic(tb testing.TB, ctx context.Context, tx *gorm.DB, slug string, parent *types.Topic) *types.Topic {
	tb.Helper()
	t := &types.Topic{
		ID:       uuid.New(),
		Slug:     slug,
		Name:     slug,
		Keywords: learning.EncodeStrings(nil),
		Aliases:  learning.EncodeStrings(nil),
	}
	if parent != nil {
		t.ParentID = &parent.ID
		t.Level = parent.Level + 1
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed topic: %v", err)
	}
	return t
}
