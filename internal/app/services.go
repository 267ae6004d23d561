package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion/extractor"
	"github.com/yungbote/neurobridge-rag/internal/modules/mastery"
	"github.com/yungbote/neurobridge-rag/internal/modules/retrieval"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type Services struct {
	Ingestion    ingestion.Service
	Mastery      mastery.Service
	Retrieval    retrieval.Service
	RetrievalLog *retrieval.Logger
}

func wireMastery(db *gorm.DB, log *logger.Logger, cfg Config, reposet repos.Set) (mastery.Service, error) {
	svc, err := mastery.NewService(mastery.Deps{
		DB:           db,
		Log:          log,
		Topics:       reposet.Topics,
		Interactions: reposet.Interactions,
		Mastery:      reposet.Mastery,
	}, cfg.Mastery)
	if err != nil {
		return nil, fmt.Errorf("init mastery service: %w", err)
	}
	return svc, nil
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet repos.Set, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	var notifier ingestion.ProgressNotifier
	if clients.Progress != nil {
		notifier = clients.Progress
	}
	ingest, err := ingestion.NewService(ingestion.Deps{
		DB:         db,
		Log:        log,
		Documents:  reposet.Documents,
		Embeddings: reposet.Embeddings,
		Store:      clients.Store,
		Extractor:  extractor.New(log, cfg.Ingestion.MaxPages),
		Embedder:   clients.Embedder,
		Notifier:   notifier,
	}, cfg.Ingestion)
	if err != nil {
		return Services{}, fmt.Errorf("init ingestion service: %w", err)
	}

	masterySvc, err := wireMastery(db, log, cfg, reposet)
	if err != nil {
		return Services{}, err
	}

	retrievalLog, err := retrieval.NewLogger(reposet.RetrievalLog, log, cfg.RetrievalLog)
	if err != nil {
		return Services{}, fmt.Errorf("init retrieval logger: %w", err)
	}
	retrievalSvc, err := retrieval.NewService(retrieval.Deps{
		Log:        log,
		Embedder:   clients.Embedder,
		Search:     clients.Search,
		Embeddings: reposet.Embeddings,
		Sink:       retrievalLog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init retrieval service: %w", err)
	}

	return Services{
		Ingestion:    ingest,
		Mastery:      masterySvc,
		Retrieval:    retrievalSvc,
		RetrievalLog: retrievalLog,
	}, nil
}
