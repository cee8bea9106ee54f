package http

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/cardpipe/cardpipe/internal/http/handlers"
	httpMW "github.com/cardpipe/cardpipe/internal/http/middleware"
	"github.com/cardpipe/cardpipe/internal/platform/drain"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
)

// RouterConfig wires every handler and piece of shared middleware the
// gateway needs (spec.md §6.1).
type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware
	JobHandler     *httpH.JobHandler
	HealthHandler  *httpH.HealthHandler
	Drain          *drain.Flag
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.DrainGuard(cfg.Drain))
	r.Use(otelgin.Middleware("cardpipe"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}

	authorized := r.Group("/")
	if cfg.AuthMiddleware != nil {
		authorized.Use(cfg.AuthMiddleware.RequireAPIKey())
	}

	if cfg.JobHandler != nil {
		authorized.POST("/jobs", cfg.JobHandler.Submit)
		authorized.GET("/status/:id", cfg.JobHandler.Status)
		authorized.POST("/jobs/:id/cancel", cfg.JobHandler.Cancel)
		authorized.GET("/jobs/:id/events", cfg.JobHandler.Events)
		authorized.GET("/jobs/:id/assets/:name", cfg.JobHandler.Asset)

		// gzip only the manifest: it is the one JSON payload large enough
		// (per-card geometry + items) for compression to matter.
		manifest := authorized.Group("/")
		manifest.Use(gzip.Gzip(gzip.DefaultCompression))
		manifest.GET("/jobs/:id/result.json", cfg.JobHandler.Result)
	}

	return r
}
