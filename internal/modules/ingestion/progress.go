package ingestion

import (
	"context"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
)

// ProgressNotifier receives a ProgressEvent on every status change and every stored chunk. The redis
// ProgressBus satisfies it.
type ProgressNotifier interface {
	Publish(ctx context.Context, ev types.ProgressEvent) error
}

type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, types.ProgressEvent) error { return nil }

func (s *service) publish(ctx context.Context, doc *types.Document, processed int, errText string) {
	if doc == nil {
		return
	}
	ev := types.ProgressEvent{
		DocumentID:      doc.ID,
		Status:          doc.Status,
		ProcessedChunks: processed,
		TotalChunks:     doc.TotalChunks,
		Error:           errText,
		At:              s.now(),
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.log.Warn("Progress publish failed", "document_id", doc.ID, "status", doc.Status, "error", err)
	}
}
