package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-rag/internal/data/repos/learning"
	"github.com/yungbote/neurobridge-rag/internal/data/repos/materials"
	"github.com/yungbote/neurobridge-rag/internal/data/repos/retrieval"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type DocumentRepo = materials.DocumentRepo
type EmbeddingRepo = materials.EmbeddingRepo
type EmbeddingStats = materials.EmbeddingStats

type TopicRepo = learning.TopicRepo
type TopicInteractionRepo = learning.TopicInteractionRepo
type TopicMasteryRepo = learning.TopicMasteryRepo

type RetrievalLogRepo = retrieval.RetrievalLogRepo

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return materials.NewDocumentRepo(db, baseLog)
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return materials.NewEmbeddingRepo(db, baseLog)
}

func NewTopicRepo(db *gorm.DB, baseLog *logger.Logger) TopicRepo {
	return learning.NewTopicRepo(db, baseLog)
}

func NewTopicInteractionRepo(db *gorm.DB, baseLog *logger.Logger) TopicInteractionRepo {
	return learning.NewTopicInteractionRepo(db, baseLog)
}

func NewTopicMasteryRepo(db *gorm.DB, baseLog *logger.Logger) TopicMasteryRepo {
	return learning.NewTopicMasteryRepo(db, baseLog)
}

func NewRetrievalLogRepo(db *gorm.DB, baseLog *logger.Logger) RetrievalLogRepo {
	return retrieval.NewRetrievalLogRepo(db, baseLog)
}

// Set is the full repository bundle handed to services.
type Set struct {
	Documents    DocumentRepo
	Embeddings   EmbeddingRepo
	Topics       TopicRepo
	Interactions TopicInteractionRepo
	Mastery      TopicMasteryRepo
	RetrievalLog RetrievalLogRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Documents:    NewDocumentRepo(db, baseLog),
		Embeddings:   NewEmbeddingRepo(db, baseLog),
		Topics:       NewTopicRepo(db, baseLog),
		Interactions: NewTopicInteractionRepo(db, baseLog),
		Mastery:      NewTopicMasteryRepo(db, baseLog),
		RetrievalLog: NewRetrievalLogRepo(db, baseLog),
	}
}
