package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chamada/internal/auth"
	"chamada/internal/calls"
	"chamada/internal/config"
	"chamada/internal/httpapi"
	"chamada/internal/metrics"
	"chamada/internal/ratelimit"
	"chamada/internal/reporting"
	"chamada/pkg/logger"
)

type routeDeps struct {
	Validator *calls.Validator
	Calls     httpapi.CallStarter
	Reports   *reporting.Service
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Metrics
	Ready     map[string]httpapi.ReadyCheck

	// MetricsHandler serves /metrics; nil serves the default registry.
	MetricsHandler http.Handler
}

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func newRouter(cfg config.Config, log *slog.Logger, d routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	if mw := corsMiddleware(cfg); mw != nil {
		r.Use(mw)
	}

	// public
	r.GET("/healthz", httpapi.Health)
	r.GET("/readyz", httpapi.Ready(d.Ready))
	mh := d.MetricsHandler
	if mh == nil {
		mh = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(mh))

	h := httpapi.Handlers{Validator: d.Validator, Calls: d.Calls, Reports: d.Reports}
	api := r.Group("/api")
	api.Use(auth.RequireAPIKey(cfg.HTTP.APIKey, cfg.APIKeyEnforced()))
	api.POST("/start_call", ratelimit.Middleware(d.Limiter, d.Metrics), h.StartCall)
	api.GET("/calls/summary", h.CallsSummary)

	return r
}

// corsMiddleware allows the configured origins. With no origins configured,
// every origin is allowed outside production and none in production.
func corsMiddleware(cfg config.Config) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", logger.HeaderRequestID},
		ExposeHeaders: []string{logger.HeaderRequestID, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	origins := cfg.HTTP.AllowedOrigins
	switch {
	case len(origins) == 0 && cfg.IsProduction():
		return nil
	case len(origins) == 0:
		c.AllowAllOrigins = true
	default:
		for _, o := range origins {
			if o == "*" {
				c.AllowAllOrigins = true
			}
		}
		if !c.AllowAllOrigins {
			c.AllowOrigins = origins
		}
	}
	return cors.New(c)
}
