/**
 * @description
 * HTTP router setup for the subscription service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers subscription routes. The
// rateLimit middleware is injected so deployments can choose the in-memory
// or the Redis-backed limiter.
func NewRouter(h *Handler, jwksURL string, internalKey string, rateLimit func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(rateLimit)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Subscription service is healthy"))
	})

	// The plan catalog is static and public.
	r.Get("/plans", h.handleListPlans)

	r.Route("/internal/subscriptions", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/sweep/run", h.handleRunPastDueSweep)
		r.Get("/{userID}", h.handleGetSubscriptionInternal)
		r.Post("/{userID}", h.handleCreateSubscriptionInternal)
		r.Post("/{userID}/cancel", h.handleCancelSubscriptionInternal)
		r.Get("/{userID}/usage", h.handleGetUsageInternal)
		r.Post("/{userID}/credits/consume", h.handleConsumeCredits)
	})

	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))
		r.Get("/subscription", h.handleGetSubscription)
		r.Post("/subscribe", h.handleSubscribe)
		r.Post("/cancel", h.handleCancel)
		r.Get("/usage", h.handleGetUsage)
		r.Get("/watch", h.handleWatch)
	})

	return r
}
