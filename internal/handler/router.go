// Package handler provides the operational HTTP surface for Filewarden.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterConfig contains configuration for the operator router.
type RouterConfig struct {
	Admin *AdminHandler

	// PromRegistry, when set, exposes Prometheus metrics at PromPath.
	PromRegistry *prometheus.Registry
	PromPath     string

	Logger zerolog.Logger
}

// NewRouter builds the operator HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	cfg.Admin.RegisterRoutes(r)

	if cfg.PromRegistry != nil {
		path := cfg.PromPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.HandlerFor(cfg.PromRegistry, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs each request with method, path, status, and duration.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
