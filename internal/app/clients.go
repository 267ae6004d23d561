package app

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-rag/internal/clients/redis"
	"github.com/yungbote/neurobridge-rag/internal/data/db"
	"github.com/yungbote/neurobridge-rag/internal/platform/contentstore"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
	"github.com/yungbote/neurobridge-rag/internal/platform/openai"
	"github.com/yungbote/neurobridge-rag/internal/platform/pgvector"
)

type Clients struct {
	Embedder openai.Client
	Store    contentstore.Store
	Search   pgvector.SearchEngine
	// Progress is nil when REDIS_ADDR is unset.
	Progress redis.ProgressBus
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, pg *db.PostgresService) (Clients, error) {
	log.Info("Wiring clients...")

	// Openai
	embedder, err := openai.NewClient(cfg.OpenAI, log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	// Content store
	store, err := contentstore.New(ctx, cfg.ContentStore, log)
	if err != nil {
		return Clients{}, fmt.Errorf("init content store: %w", err)
	}

	// Pgvector
	search, err := pgvector.NewSearchEngine(pg.Pool(), cfg.OpenAI.Dimensions, log)
	if err != nil {
		return Clients{}, fmt.Errorf("init vector search: %w", err)
	}

	// Redis
	var bus redis.ProgressBus
	if cfg.Redis.Addr != "" {
		bus, err = redis.NewProgressBus(cfg.Redis, log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis progress bus: %w", err)
		}
	}

	return Clients{
		Embedder: embedder,
		Store:    store,
		Search:   search,
		Progress: bus,
	}, nil
}

func (c Clients) Close() {
	if c.Progress != nil {
		_ = c.Progress.Close()
	}
	if closer, ok := c.Store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
