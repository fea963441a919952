package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Handler *Handler
	// AuthEnabled enforces Bearer Token on the /api group.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /api/events.
	Events http.Handler
	// Metrics, if non-nil, is mounted at GET /metrics.
	Metrics http.Handler
}

// NewRouter creates a chi router with all routes mounted. The webhook
// authenticates by its shared secret; the /api group by bearer token.
func NewRouter(cfg RouterConfig) chi.Router {
	h := cfg.Handler

	r := chi.NewRouter()
	r.Post("/webhook", h.Webhook)
	r.Get("/health", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))
		r.Get("/submissions", h.ListSubmissions)
		if cfg.Events != nil {
			r.Get("/events", cfg.Events.ServeHTTP)
		}
	})

	return r
}
