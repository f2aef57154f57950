package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/newsgraph/internal/http/handlers"
	httpMW "github.com/yungbote/newsgraph/internal/http/middleware"
	"github.com/yungbote/newsgraph/internal/observability"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	ServiceName     string
	TracingEnabled  bool
	CORSOrigins     []string
	APIKey          string
	MaxRequestBytes int64

	NewsletterHandler *httpH.NewsletterHandler
	SystemHandler     *httpH.SystemHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.BodyLimit(cfg.MaxRequestBytes))

	// System
	if cfg.SystemHandler != nil {
		r.GET("/", cfg.SystemHandler.Root)
		r.GET("/health", cfg.SystemHandler.Health)
		r.GET("/ready", cfg.SystemHandler.Ready)
		r.GET("/test-connectivity", cfg.SystemHandler.TestConnectivity)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	newsletter := r.Group("/newsletter")
	{
		newsletter.Use(httpMW.RequireAPIKey(cfg.Log, cfg.APIKey))

		if cfg.NewsletterHandler != nil {
			newsletter.POST("/process", cfg.NewsletterHandler.Process)
			newsletter.GET("/stats", cfg.NewsletterHandler.Stats)
			newsletter.GET("/similar", cfg.NewsletterHandler.Similar)
			newsletter.GET("/health", cfg.NewsletterHandler.Health)
			newsletter.GET("/runs", cfg.NewsletterHandler.ListRuns)
			newsletter.GET("/runs/:id", cfg.NewsletterHandler.GetRun)
		}
	}

	return r
}
