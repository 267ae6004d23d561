package app

import (
	"context"

	"gorm.io/gorm"

	httpH "github.com/yungbote/neurobridge-rag/internal/http/handlers"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type Handlers struct {
	Document  *httpH.DocumentHandler
	Retrieval *httpH.RetrievalHandler
	Mastery   *httpH.MasteryHandler
	Health    *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, cfg Config, db *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Document: httpH.NewDocumentHandler(httpH.DocumentHandlerDeps{
			Log:            log,
			Documents:      services.Ingestion,
			MaxUploadBytes: cfg.MaxUploadBytes,
		}),
		Retrieval: httpH.NewRetrievalHandler(log, services.Retrieval),
		Mastery:   httpH.NewMasteryHandler(log, services.Mastery),
		Health: httpH.NewHealthHandler(map[string]httpH.Pinger{
			"postgres": httpH.PingFunc(func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}),
		}),
	}
}
