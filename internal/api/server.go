// Package api serves the marketplace HTTP surface: health, metrics, top
// deals and the bulk research function.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/andrew12-circle/circle-marketplace/internal/batch"
	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/metrics"
	"github.com/andrew12-circle/circle-marketplace/internal/store"
)

// PageProcessor handles one bulk research page for an authenticated user.
type PageProcessor interface {
	ProcessPage(ctx context.Context, userID string, req batch.PageRequest) (*batch.PageResponse, error)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Store    store.Store
	Research PageProcessor
	Deals    config.DealsConfig
	Server   config.ServerConfig
}

type handler struct {
	store    store.Store
	research PageProcessor
	deals    config.DealsConfig
	server   config.ServerConfig
	validate *validator.Validate
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	h := &handler{
		store:    d.Store,
		research: d.Research,
		deals:    d.Deals,
		server:   d.Server,
		validate: validator.New(),
	}

	origins := d.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "apikey", "x-client-info"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/deals/top", h.topDeals)

	r.Group(func(r chi.Router) {
		r.Use(authenticate([]byte(d.Server.JWTSecret)))
		r.Post("/functions/v1/bulk-research", h.bulkResearch)
	})

	return r
}

// NewServer wraps the router in an http.Server with conservative timeouts.
// WriteTimeout is left unset because a research page can take minutes.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
