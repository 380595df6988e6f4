package server

import (
	"net/http"

	"github.com/corpora-labs/corpusd/internal/api"
	"github.com/corpora-labs/corpusd/internal/api/handlers"
	"github.com/corpora-labs/corpusd/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	AuthValidator   middleware.AuthValidator
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	EventsHandler   *handlers.EventsHandler
	AuthHandler     *handlers.AuthHandler
	MaxBodyBytes    int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 * 1024 * 1024
	}
	// Multipart framing adds overhead beyond the file itself.
	maxBodyBytes += 1 << 20

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/upload", cfg.DocumentHandler.Upload)
			r.Get("/", cfg.DocumentHandler.List)
			r.Get("/events", cfg.EventsHandler.Stream)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
		})

		r.Post("/search", cfg.SearchHandler.Search)
	})

	r.Post("/users", cfg.AuthHandler.CreateUser)
	r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)

	return r
}
