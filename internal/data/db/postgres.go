package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-rag/internal/platform/envutil"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type PostgresService struct {
	db   *gorm.DB
	pool *pgxpool.Pool
	log  *logger.Logger
}

// DSN assembles the connection string from POSTGRES_* variables.
func DSN(logg *logger.Logger) string {
	if dsn := envutil.String("POSTGRES_DSN", "", logg); dsn != "" {
		return dsn
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		envutil.String("POSTGRES_USER", "postgres", logg),
		envutil.String("POSTGRES_PASSWORD", "", logg),
		envutil.String("POSTGRES_HOST", "localhost", logg),
		envutil.String("POSTGRES_PORT", "5432", logg),
		envutil.String("POSTGRES_NAME", "neurobridge", logg),
		envutil.String("POSTGRES_SSLMODE", "disable", logg),
	)
}

func NewPostgresService(ctx context.Context, logg *logger.Logger) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")
	dsn := DSN(logg)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: false,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := EnsureExtensions(db); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolCfg.MaxConns = int32(envutil.Int("POSTGRES_POOL_MAX_CONNS", 10, logg))
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	serviceLog.Info("Connected to Postgres")
	return &PostgresService{db: db, pool: pool, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

// Pool is the raw pgx pool used for vector similarity queries.
func (s *PostgresService) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresService) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
