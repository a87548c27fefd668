package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codetesla51/kvshape/algorithms"
)

// RouteOptions carries the optional pieces of the router.
type RouteOptions struct {
	CORSOrigins []string
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// Limiter rate limits /v1 when set.
	Limiter algorithms.RateLimiter
}

func (h *Handler) Routes(m *Middleware, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(m.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(middleware.Heartbeat("/ping"))
	if len(opts.CORSOrigins) > 0 {
		r.Use(m.CORS(opts.CORSOrigins))
	}

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(m.RateLimit(opts.Limiter))
		}

		r.Route("/strings/{key}", func(r chi.Router) {
			r.Put("/", h.PutString)
			r.Get("/", h.GetString)
			r.Delete("/", h.DeleteString)
		})

		r.Route("/raw/{key}", func(r chi.Router) {
			r.Put("/", h.PutRaw)
			r.Get("/", h.GetRaw)
			r.Delete("/", h.DeleteRaw)
		})

		r.Route("/counters/{key}", func(r chi.Router) {
			r.Put("/", h.PutCounter)
			r.Get("/", h.GetCounter)
			r.Delete("/", h.DeleteCounter)
			r.Post("/increment", h.IncrementCounter)
		})
	})

	return r
}
