package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-converter/api/handlers"
	"github.com/feichai0017/file-converter/api/middleware"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/metrics"
)

// Options carries the middleware settings routes need.
type Options struct {
	AllowedOrigins []string
	Limiter        *middleware.RateLimiter
	Auth           *middleware.Authenticator
	Logger         logger.Logger
}

// SetupRoutes registers every endpoint on r.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, opts Options) {
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(middleware.CORS(opts.AllowedOrigins))

	r.GET("/healthz", h.Health.Healthz)
	metrics.MustRegister()
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(opts.Auth.Middleware())

	tools := v1.Group("/tools")
	{
		tools.GET("", h.Tools.List)
		tools.GET("/:toolId", h.Tools.Get)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.POST("", opts.Limiter.Middleware(), h.Conversion.Submit)
		jobs.POST("/batch", opts.Limiter.Middleware(), h.Conversion.SubmitBatch)
		jobs.GET("/:jobId", h.Conversion.Status)
		jobs.GET("/:jobId/events", h.Conversion.Events)
		jobs.GET("/:jobId/download", h.Conversion.Download)
		jobs.DELETE("/:jobId", h.Conversion.Cancel)
		jobs.POST("/:jobId/save", h.Conversion.Save)
	}

	v1.GET("/library", h.Conversion.Library)
}
