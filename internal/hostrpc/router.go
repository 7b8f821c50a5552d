package hostrpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Version string
	Engine  string // Backend engine name reported by /health
	Host    subtle.Host
}

// NewRouter creates a new Chi router serving the host operations of
// cfg.Host.
func NewRouter(cfg *RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)

	// Health endpoints
	healthHandler := NewHealthHandler(cfg.Version, cfg.Engine, cfg.Host)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	hostHandler := NewHostHandler(cfg.Host)
	r.Route("/v1/host", func(r chi.Router) {
		r.Post("/{operation}", hostHandler.Call)
	})

	return r
}
