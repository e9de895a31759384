// Package router assembles the local HTTP gateway in front of the chat router
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/api/handlers"
	"github.com/amerfu/codepilot/internal/config"
	"github.com/amerfu/codepilot/internal/middleware"
	"github.com/amerfu/codepilot/internal/services/monitoring/metrics"
)

// NewRouter wires the gateway routes. recorder may be nil.
func NewRouter(cfg config.ServerConfig, logger *zap.Logger, rt handlers.Router, recorder *metrics.Recorder) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(recorder, logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst, logger))

	chatHandler := handlers.NewChatHandler(logger, rt, cfg.AllowedOrigins)
	providersHandler := handlers.NewProvidersHandler(logger, rt)

	r.Get("/health", handlers.Health(logger, rt))
	r.Method(http.MethodGet, "/metrics", recorder.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/providers", providersHandler.ListProviders)
		r.Get("/stats", providersHandler.GetStats)
		r.Delete("/stats", providersHandler.ResetStats)
		r.Get("/breakers", providersHandler.ListBreakers)

		r.Post("/chat", chatHandler.Chat)
		r.Get("/chat/stream", chatHandler.Stream)
	})

	return r
}
