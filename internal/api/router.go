/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as CORS and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the browser client.
 * - github.com/prometheus/client_golang: metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the cross-cutting parts of the router.
type RouterOptions struct {
	JWTSecret          string
	CORSAllowedOrigins []string
	MetricsEnabled     bool
}

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// The provider authenticates with a body signature, not a bearer token.
	r.Post("/payment/webhook", h.PaymentWebhookHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(opts.JWTSecret))

		r.Post("/payment/create-link", h.CreatePaymentLinkHandler)
		r.Post("/payment/cancel", h.CancelPaymentHandler)

		r.Post("/withdraw/request", h.CreateWithdrawRequestHandler)
		r.Get("/withdraw/requests", h.ListWithdrawRequestsHandler)

		r.Get("/wallet/info", h.GetWalletInfoHandler)
		r.Get("/transactions", h.ListTransactionsHandler)

		r.With(RequireRole(RoleAdmin)).Post("/withdraw/approve", h.ProcessWithdrawRequestHandler)
	})

	return r
}
