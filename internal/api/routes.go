package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"contact.broker/config"
	"contact.broker/internal/auth"
	"contact.broker/internal/broker"
)

type Dependencies struct {
	Broker     *broker.Broker
	Auth       *auth.Service // nil disables authentication
	Authorizer auth.Authorizer
	Gatherer   prometheus.Gatherer
	Logger     zerolog.Logger
}

func SetupRouter(deps Dependencies, cfg *config.Config) *chi.Mux {
	h := NewHandler(deps.Broker, deps.Authorizer)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID(deps.Logger))
	r.Use(Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	// Health
	r.Get("/health", h.Health)
	if deps.Gatherer != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		var consumeLimiter *RateLimiter
		if cfg.RateLimit.Enabled {
			apiLimiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
			consumeLimiter = NewRateLimiter(cfg.RateLimit.ConsumePerMin, time.Minute)
			r.Use(apiLimiter.Middleware)
		}
		r.Use(JSONOnly)
		r.Use(Authenticate(deps.Auth))

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateContactRequest)
			r.Get("/{id}", h.GetContactRequest)
			r.Post("/{id}/reveal", h.Reveal)
			r.Put("/{id}/status", h.UpdateStatus)
		})

		if consumeLimiter != nil {
			r.With(consumeLimiter.Middleware).Post("/consume", h.Consume)
		} else {
			r.Post("/consume", h.Consume)
		}
	})

	return r
}
