/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/bookings/*  Booking admission and lifecycle
  /api/vehicles/*  Per-vehicle schedule queries
  /api/rules/*     Recurring rule management
  /api/fees/*      Late-return fee lifecycle
  /api/admin/*     Maintenance sweeps

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/approve", h.ApproveBooking)
			r.Post("/{id}/reject", h.RejectBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/checkout", h.CheckOutBooking)
			r.Post("/{id}/return", h.ReturnBooking)
			r.Get("/{id}/audits", h.GetBookingAudits)
			r.Get("/{id}/fees", h.GetBookingFees)
		})

		// Vehicle routes
		r.Route("/vehicles", func(r chi.Router) {
			r.Get("/{id}/bookings", h.ListVehicleBookings)
			r.Get("/{id}/conflicts", h.ListVehicleConflicts)
		})

		// Recurring rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Post("/{id}/pause", h.PauseRule)
			r.Post("/{id}/resume", h.ResumeRule)
			r.Post("/{id}/cancel", h.CancelRule)
			r.Post("/{id}/materialize", h.MaterializeRule)
		})

		// Fee routes
		r.Route("/fees", func(r chi.Router) {
			r.Get("/{id}", h.GetFee)
			r.Post("/{id}/charge", h.ChargeFee)
			r.Post("/{id}/waive", h.WaiveFee)
			r.Post("/{id}/dispute", h.DisputeFee)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/expire", h.ExpireOverdue)
			r.Post("/materialize", h.MaterializeAll)
		})
	})

	return r
}
