package domain

import (
	"github.com/yungbote/neurobridge-rag/internal/domain/learning"
	"github.com/yungbote/neurobridge-rag/internal/domain/materials"
	"github.com/yungbote/neurobridge-rag/internal/domain/retrieval"
)

type Document = materials.Document
type DocumentStatus = materials.DocumentStatus
type Embedding = materials.Embedding
type ProgressEvent = materials.ProgressEvent

const (
	DocumentPending    = materials.DocumentPending
	DocumentProcessing = materials.DocumentProcessing
	DocumentCompleted  = materials.DocumentCompleted
	DocumentFailed     = materials.DocumentFailed
	DocumentCancelled  = materials.DocumentCancelled

	EmbeddingSourceUpload = materials.EmbeddingSourceUpload
	EmbeddingSourceSystem = materials.EmbeddingSourceSystem
)

type Topic = learning.Topic
type TopicInteraction = learning.TopicInteraction
type TopicMastery = learning.TopicMastery
type MasteryStatus = learning.MasteryStatus
type RagConfidence = learning.RagConfidence

const (
	MasteryNotStarted = learning.MasteryNotStarted
	MasteryBeginner   = learning.MasteryBeginner
	MasteryLearning   = learning.MasteryLearning
	MasteryProficient = learning.MasteryProficient
	MasteryMastered   = learning.MasteryMastered

	RagConfidenceHigh    = learning.RagConfidenceHigh
	RagConfidenceMedium  = learning.RagConfidenceMedium
	RagConfidenceLow     = learning.RagConfidenceLow
	RagConfidenceUnknown = learning.RagConfidenceUnknown
)

type RetrievalLog = retrieval.RetrievalLog
type RetrievalMetrics = retrieval.Metrics
type RetrievalResultEntry = retrieval.ResultEntry
type ConfidenceBucket = retrieval.ConfidenceBucket

const (
	ConfidenceHigh   = retrieval.ConfidenceHigh
	ConfidenceMedium = retrieval.ConfidenceMedium
	ConfidenceLow    = retrieval.ConfidenceLow
)

// AllModels is the migration set, parents before children.
func AllModels() []any {
	return []any{
		&Document{},
		&Embedding{},
		&Topic{},
		&TopicInteraction{},
		&TopicMastery{},
		&RetrievalLog{},
	}
}
