// Package app wires configuration, adapters and usecases into the running
// service: the HTTP router, readiness probes and background sweepers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/powerpulse/powerpulse/internal/adapter/httpserver"
	"github.com/powerpulse/powerpulse/internal/adapter/observability"
	"github.com/powerpulse/powerpulse/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Row-Count"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit mutating endpoints
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/api/upload-json", srv.UploadJSONHandler())
		wr.Post("/api/metrics/recalculate", srv.RecalculateMetricsHandler())
		wr.Delete("/api/progress/{uploadID}", srv.CancelUploadHandler())
	})

	// Read-only endpoints
	r.Get("/api/progress", srv.ProgressListHandler())
	r.Get("/api/progress/{uploadID}", srv.ProgressHandler())
	r.Get("/api/metrics", srv.MetricsHandler())
	r.Get("/api/conversations", srv.ConversationsHandler())
	r.Get("/api/conversations/{chatID}", srv.ConversationDetailHandler())
	r.Get("/api/charts/csi-trend", srv.CSITrendHandler())
	r.Get("/api/charts/sentiment-trend", srv.SentimentTrendHandler())
	r.Get("/api/export/daily-analyses.csv", srv.ExportDailyAnalysesHandler())

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	return httpserver.SecurityHeaders(r)
}
