package app

import (
	"strings"
	"time"

	"github.com/yungbote/neurobridge-rag/internal/clients/redis"
	"github.com/yungbote/neurobridge-rag/internal/modules/ingestion"
	"github.com/yungbote/neurobridge-rag/internal/modules/mastery"
	"github.com/yungbote/neurobridge-rag/internal/modules/retrieval"
	"github.com/yungbote/neurobridge-rag/internal/observability"
	"github.com/yungbote/neurobridge-rag/internal/platform/contentstore"
	"github.com/yungbote/neurobridge-rag/internal/platform/envutil"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
	"github.com/yungbote/neurobridge-rag/internal/platform/openai"
)

type Config struct {
	HTTPAddr       string
	CORSOrigins    []string
	MaxUploadBytes int64
	// MigrateOnStart runs AutoMigrate and the vector index DDL before serving.
	MigrateOnStart bool

	Redis        redis.Config
	ContentStore contentstore.Config
	OpenAI       openai.Config
	Otel         observability.OtelConfig

	Ingestion    ingestion.Config
	Mastery      mastery.Config
	RetrievalLog retrieval.LogConfig
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		HTTPAddr:       envutil.String("HTTP_ADDR", ":8080", log),
		CORSOrigins:    splitList(envutil.String("CORS_ALLOWED_ORIGINS", "", log)),
		MaxUploadBytes: int64(envutil.Int("HTTP_MAX_UPLOAD_MB", 64, log)) << 20,
		MigrateOnStart: envutil.Bool("POSTGRES_MIGRATE_ON_START", true, log),
		Redis: redis.Config{
			Addr:    envutil.String("REDIS_ADDR", "", log),
			Channel: envutil.String("REDIS_CHANNEL", "document-progress", log),
		},
		ContentStore: contentstore.Config{
			Mode:         contentstore.Mode(strings.ToLower(envutil.String("CONTENT_STORE_MODE", string(contentstore.ModeLocal), log))),
			Dir:          envutil.String("CONTENT_STORE_DIR", "./data/content", log),
			Bucket:       envutil.String("GCS_BUCKET_NAME", "", log),
			EmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", "", log),
		},
		OpenAI: openai.ConfigFromEnv(log),
		Otel: observability.OtelConfig{
			Enabled:        envutil.Bool("OTEL_ENABLED", false, log),
			ServiceName:    envutil.String("OTEL_SERVICE_NAME", "neurobridge-rag", log),
			Environment:    envutil.String("OTEL_ENVIRONMENT", "development", log),
			Version:        envutil.String("OTEL_SERVICE_VERSION", "", log),
			Endpoint:       envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "", log),
			Headers:        observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "", nil)),
			Insecure:       envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false, log),
			SampleRatio:    envutil.Float("OTEL_SAMPLE_RATIO", 1, log),
			MetricInterval: envutil.Duration("OTEL_METRIC_EXPORT_INTERVAL", 30*time.Second, time.Millisecond, log),
		},
		Ingestion:    ingestion.ConfigFromEnv(log),
		Mastery:      mastery.ConfigFromEnv(log),
		RetrievalLog: retrieval.LogConfigFromEnv(log),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
