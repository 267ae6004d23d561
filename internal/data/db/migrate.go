package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
)

func EnsureExtensions(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		return fmt.Errorf("enable vector: %w", err)
	}
	return nil
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.AllModels()...)
}

// EnsureVectorIndexes pins the embedding column to a fixed dimension and builds the HNSW cosine
// index. dim <= 0 leaves the column untyped and skips the index.
func EnsureVectorIndexes(db *gorm.DB, dim int) error {
	if dim <= 0 {
		return nil
	}
	if err := db.Exec(fmt.Sprintf(`ALTER TABLE embedding ALTER COLUMN vector TYPE vector(%d);`, dim)).Error; err != nil {
		return fmt.Errorf("set embedding vector dimension: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_embedding_vector_hnsw
		ON embedding USING hnsw (vector vector_cosine_ops);
	`).Error; err != nil {
		return fmt.Errorf("create idx_embedding_vector_hnsw: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_document_inflight
		ON document(updated_at)
		WHERE status IN ('PENDING', 'PROCESSING');
	`).Error; err != nil {
		return fmt.Errorf("create idx_document_inflight: %w", err)
	}
	return nil
}
