// Package app wires configuration, adapters, and usecases into the HTTP
// surface.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/chat-relay/internal/adapter/httpserver"
	"github.com/fairyhunter13/chat-relay/internal/adapter/observability"
	"github.com/fairyhunter13/chat-relay/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
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
	r.Use(httpserver.TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit the dispatch endpoint
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/v1/chat", srv.ChatHandler())
	})

	// Admin API, only mounted when credentials are configured
	if cfg.AdminEnabled() {
		r.Group(func(ar chi.Router) {
			ar.Use(srv.AdminAPIGuard())
			ar.Get("/v1/accounts", srv.ListAccountsHandler())
			ar.Post("/v1/accounts", srv.CreateAccountHandler())
			ar.Delete("/v1/accounts/{email}", srv.DeleteAccountHandler())
			ar.Get("/v1/proxies", srv.ProxiesHandler())
			ar.Get("/v1/settings", srv.SettingsHandler())
			ar.Get("/v1/settings/{key}", srv.GetSettingHandler())
			ar.Put("/v1/settings/{key}", srv.PutSettingHandler())
		})
	}

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	// OpenAPI if present
	r.Get("/openapi.yaml", srv.OpenAPIServe())

	return httpserver.SecurityHeaders(r)
}
