package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskhive/hookbridge/internal/feed"
	"github.com/taskhive/hookbridge/internal/inbound"
	"github.com/taskhive/hookbridge/internal/ledger"
	"github.com/taskhive/hookbridge/internal/queue"
	"github.com/taskhive/hookbridge/internal/store"
)

// Deps bundles everything the router hands to its handlers.
type Deps struct {
	Events        store.Events
	Subscriptions store.Subscriptions
	Ledger        ledger.Repository
	Queue         *queue.Queue
	Verifier      *inbound.Verifier
	Sessions      *inbound.SessionRegistry
	Hub           *feed.Hub

	// RateLimiter, when non-nil, throttles event ingestion.
	RateLimiter *RateLimiter
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) http.Handler {
	logger := httplog.NewLogger("hookbridge", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Handlers
	eventHandler := NewEventHandler(deps.Events, deps.Queue)
	subHandler := NewSubscriptionHandler(deps.Subscriptions)
	deliveryHandler := NewDeliveryHandler(deps.Ledger)
	callbackHandler := NewCallbackHandler(deps.Verifier, deps.Sessions)

	// Live delivery feed
	r.Get("/ws", deps.Hub.HandleWebSocket)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/events", func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.Middleware).Post("/", eventHandler.Create)
			} else {
				r.Post("/", eventHandler.Create)
			}
			r.Get("/", eventHandler.List)
			r.Get("/{id}", eventHandler.Get)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/stats", deliveryHandler.Stats)
			r.Get("/{id}", deliveryHandler.Get)
		})

		r.Post("/callbacks", callbackHandler.Receive)
		r.Get("/sessions", callbackHandler.Sessions)
	})

	return r
}
