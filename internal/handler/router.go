package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/guarded-chat/internal/middleware"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// RouterConfig wires handlers and cross-cutting settings into a router.
type RouterConfig struct {
	Chat          *ChatHandler
	Conversations *ConversationHandler
	Profiles      *ProfileHandler
	Domains       *DomainHandler
	Health        *HealthHandler

	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Logger            *logger.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Anonymous callers may chat; a presented token must be valid.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWTSecret))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Post("/chat", cfg.Chat.Chat)
			r.Get("/conversations/{id}/turns", cfg.Conversations.Turns)
			r.Get("/domains", cfg.Domains.List)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Get("/profiles/{userId}", cfg.Profiles.Get)
			r.Patch("/profiles/{userId}", cfg.Profiles.Patch)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(ScopeDomainsWrite))

				r.Post("/domains", cfg.Domains.Create)
				r.Post("/domains/cache/clear", cfg.Domains.ClearCache)
				r.Put("/domains/{keyword}/active", cfg.Domains.SetActive)
				r.Delete("/domains/{keyword}", cfg.Domains.Delete)
			})
		})
	})

	return r
}
