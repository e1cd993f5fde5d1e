/**
 * @description
 * This file sets up the HTTP router for the payments-service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware. The
 * webhook endpoint sits outside the authenticated group: the processor
 * authenticates with its HMAC signature, not a Clerk JWT.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payments-service.
func PaymentRoutes(h *PaymentHandlers, webhook *WebhookHandler, auth AuthConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Processor webhook: authenticated by HMAC signature, not a user JWT.
	r.Post("/webhooks/processor", webhook.ServeHTTP)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(auth))

		r.Post("/payments/escrow/{contractId}", h.CreateEscrowHandler)
		r.Post("/payments/escrow/{contractId}/refund", h.RefundEscrowHandler)
		r.Get("/payments/escrow/contract/{contractId}", h.GetEscrowHandler)
		r.Post("/payments/milestones/{milestoneId}/release", h.ReleaseMilestoneHandler)

		r.Post("/payments/connect/onboarding", h.ConnectOnboardingHandler)
		r.Get("/payments/connect/status", h.ConnectStatusHandler)
	})

	return r
}
