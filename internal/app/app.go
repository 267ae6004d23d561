package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-rag/internal/data/db"
	"github.com/yungbote/neurobridge-rag/internal/data/repos"
	httpx "github.com/yungbote/neurobridge-rag/internal/http"
	"github.com/yungbote/neurobridge-rag/internal/modules/mastery"
	"github.com/yungbote/neurobridge-rag/internal/observability"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// Base is the part of the app every command needs: logging, config, tracing and the database.
type Base struct {
	Log   *logger.Logger
	Cfg   Config
	PG    *db.PostgresService
	DB    *gorm.DB
	Repos repos.Set

	otelShutdown func(context.Context) error
}

func NewLogger() (*logger.Logger, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

func Open(ctx context.Context) (*Base, error) {
	log, err := NewLogger()
	if err != nil {
		return nil, err
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	shutdown := observability.InitOTel(ctx, log, cfg.Otel)

	pg, err := db.NewPostgresService(ctx, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := db.AutoMigrateAll(pg.DB()); err != nil {
			pg.Close()
			log.Sync()
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
		if err := db.EnsureVectorIndexes(pg.DB(), cfg.OpenAI.Dimensions); err != nil {
			pg.Close()
			log.Sync()
			return nil, fmt.Errorf("postgres vector indexes: %w", err)
		}
	}

	return &Base{
		Log:          log,
		Cfg:          cfg,
		PG:           pg,
		DB:           pg.DB(),
		Repos:        repos.NewSet(pg.DB(), log),
		otelShutdown: shutdown,
	}, nil
}

// Mastery builds only the mastery engine, for commands that never embed.
func (b *Base) Mastery() (mastery.Service, error) {
	return wireMastery(b.DB, b.Log, b.Cfg, b.Repos)
}

func (b *Base) Close() {
	if b == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if b.otelShutdown != nil {
		if err := b.otelShutdown(ctx); err != nil {
			b.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if b.PG != nil {
		b.PG.Close()
	}
	b.Log.Sync()
}

type App struct {
	*Base
	Clients  Clients
	Services Services
	Server   *httpx.Server
}

func New(ctx context.Context) (*App, error) {
	base, err := Open(ctx)
	if err != nil {
		return nil, err
	}
	log := base.Log

	clients, err := wireClients(ctx, log, base.Cfg, base.PG)
	if err != nil {
		base.Close()
		return nil, err
	}
	services, err := wireServices(base.DB, log, base.Cfg, base.Repos, clients)
	if err != nil {
		clients.Close()
		base.Close()
		return nil, err
	}
	handlers := wireHandlers(log, base.Cfg, base.DB, services)
	server := httpx.NewServer(httpx.RouterConfig{
		Log:              log,
		ServiceName:      tracingServiceName(base.Cfg),
		CORSOrigins:      base.Cfg.CORSOrigins,
		DocumentHandler:  handlers.Document,
		RetrievalHandler: handlers.Retrieval,
		MasteryHandler:   handlers.Mastery,
		HealthHandler:    handlers.Health,
	})

	return &App{
		Base:     base,
		Clients:  clients,
		Services: services,
		Server:   server,
	}, nil
}

func tracingServiceName(cfg Config) string {
	if !cfg.Otel.Enabled {
		return ""
	}
	return cfg.Otel.ServiceName
}

// Start resumes documents a previous process left in flight.
func (a *App) Start(ctx context.Context) error {
	n, err := a.Services.Ingestion.ResetStuckDocuments(ctx)
	if err != nil {
		return fmt.Errorf("resume in-flight documents: %w", err)
	}
	if n > 0 {
		a.Log.Info("Resumed in-flight documents", "count", n)
	}
	return nil
}

// Run serves HTTP until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Serving HTTP", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run(ctx, a.Cfg.HTTPAddr)
}

// Close stops ingestion drivers, drains the retrieval log, then releases clients and the database.
func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.Services.Ingestion != nil {
		if err := a.Services.Ingestion.Close(ctx); err != nil {
			a.Log.Warn("ingestion shutdown incomplete", "error", err)
		}
	}
	if a.Services.RetrievalLog != nil {
		if err := a.Services.RetrievalLog.Close(ctx); err != nil {
			a.Log.Warn("retrieval log drain incomplete", "error", err)
		}
	}
	a.Clients.Close()
	a.Base.Close()
}
