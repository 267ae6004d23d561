package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-rag/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-rag/internal/http/middleware"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	DocumentHandler  *httpH.DocumentHandler
	RetrievalHandler *httpH.RetrievalHandler
	MasteryHandler   *httpH.MasteryHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// Documents
	if cfg.DocumentHandler != nil {
		api.POST("/documents", cfg.DocumentHandler.Upload)
		api.GET("/documents/:id", cfg.DocumentHandler.Get)
		api.GET("/documents/:id/stats", cfg.DocumentHandler.Stats)
		api.POST("/documents/:id/cancel", cfg.DocumentHandler.Cancel)
		api.POST("/documents/:id/resume", cfg.DocumentHandler.Resume)
		api.POST("/documents/:id/retry", cfg.DocumentHandler.Retry)
		api.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
	}

	// Retrieval
	if cfg.RetrievalHandler != nil {
		api.POST("/retrieve", cfg.RetrievalHandler.Retrieve)
	}

	// Mastery
	if cfg.MasteryHandler != nil {
		api.POST("/interactions", cfg.MasteryHandler.RecordInteraction)
		api.GET("/topics", cfg.MasteryHandler.ListTopics)
	}

	users := api.Group("/users/:userId")
	users.Use(httpMW.AttachRequestUser())
	{
		if cfg.DocumentHandler != nil {
			users.GET("/documents", cfg.DocumentHandler.ListForUser)
		}
		if cfg.MasteryHandler != nil {
			users.GET("/mastery", cfg.MasteryHandler.ListMastery)
			users.GET("/mastery/:topicId", cfg.MasteryHandler.GetMastery)
			users.POST("/mastery/:topicId/replay", cfg.MasteryHandler.ReplayMastery)
			users.GET("/progress", cfg.MasteryHandler.Progress)
			users.GET("/topics/:topicId", cfg.MasteryHandler.TopicDetail)
		}
	}

	return r
}
