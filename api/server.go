/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer connecting URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique ID per request for tracing
  2. Recoverer:  panic recovery (500 instead of crash)
  3. Logger:     request logging
  4. CORS:       cross-origin requests for the main application frontend

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Put("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Delete("/{id}/repetition", h.DeleteRepetition)
		})

		r.Route("/pay", func(r chi.Router) {
			r.Get("/draft", h.DraftPay)
			r.Get("/draft/export", h.ExportDraftPay)
		})

		r.Route("/bills", func(r chi.Router) {
			r.Post("/", h.GenerateBills)
			r.Get("/{id}/pdf", h.GetBillPDF)
		})

		r.Post("/payments", h.CreatePayment)
		r.Get("/balances", h.GetBalances)

		r.Put("/customers", h.PutCustomer)
		r.Put("/payers", h.PutPayer)
		r.Put("/services", h.PutService)
		r.Put("/auxiliaries", h.PutAuxiliary)
	})

	return r
}
