package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/richardliu001/transaction-service/internal/config"
	"github.com/richardliu001/transaction-service/internal/metrics"
	"github.com/richardliu001/transaction-service/internal/validator"
)

// NewRouter builds the engine with middleware, health, metrics and the
// transaction routes.
func NewRouter(h *Handler, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	validator.Register()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(metrics.PrometheusMiddleware())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1", RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(api, h)
	return r
}
