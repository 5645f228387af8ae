package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/temmyjay001/payments-core/internal/auth"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(s.contentTypeMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/health/db", s.healthDBHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Gateway callbacks
	r.With(s.authMiddleware.WebhookTokenMiddleware, s.paceMiddleware).
		Post("/webhooks/gateway", s.webhookHandlers.ReceiveHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"https://*", "http://*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300, // Maximum value not ignored by any of major browsers
		}))
		r.Use(s.authMiddleware.BearerAuthMiddleware)

		r.With(s.authMiddleware.RequireScopes(auth.ScopePaymentsWrite)).Post("/customers", s.paymentHandlers.CreateCustomerHandler)
		r.With(s.authMiddleware.RequireScopes(auth.ScopePaymentsWrite)).Post("/payments", s.paymentHandlers.CreatePaymentHandler)
		r.With(s.authMiddleware.RequireScopes(auth.ScopePaymentsWrite)).Post("/subscriptions", s.paymentHandlers.CreateSubscriptionHandler)
		r.With(s.authMiddleware.RequireScopes(auth.ScopePaymentsWrite)).Post("/cards/tokenize", s.paymentHandlers.TokenizeCardHandler)
		r.With(s.authMiddleware.RequireScopes(auth.ScopePaymentsRead)).Get("/payments/{paymentRef}", s.paymentHandlers.GetPaymentHandler)
	})

	// Operator routes
	r.Route("/internal", func(r chi.Router) {
		r.Use(s.authMiddleware.BearerAuthMiddleware)
		r.Use(s.authMiddleware.RequireScopes(auth.ScopeOps))

		r.Post("/webhooks/retry", s.webhookHandlers.RetrySweepHandler)
		r.Get("/webhooks/failures", s.webhookHandlers.ListFailuresHandler)
		r.Get("/webhooks/events/{eventId}", s.webhookHandlers.GetEventHandler)
		r.Post("/webhooks/events/{eventId}/reprocess", s.webhookHandlers.ReprocessHandler)

		r.Get("/gateway/breaker", s.breakerHandler)

		r.Post("/reconciliation/run", s.reconciliationHandlers.RunBatchHandler)
		r.Post("/reconciliation/payments/{paymentRef}", s.reconciliationHandlers.ReconcilePaymentHandler)
		r.Get("/reconciliation/payments/{paymentRef}", s.reconciliationHandlers.LatestResultHandler)
	})

	return r
}
