package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shivanand-hulikatti/slot-broker/internal/alert"
	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

// Deps are the services behind the HTTP API.
type Deps struct {
	Slots     *service.SlotManager
	Bookings  *service.BookingManager
	Providers *service.Providers
	Alerts    *alert.Subscriptions
	Public    config.Public
}

// NewRouter builds the complete route table.
func NewRouter(d Deps) http.Handler {
	provider := NewProviderHandler(d.Slots, d.Bookings)
	public := NewPublicHandler(d.Slots, d.Bookings, d.Providers)
	alerts := NewAlertHandler(d.Alerts)
	throttle := RateLimit(d.Public.RPS, d.Public.Burst)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger)                  // structured access log
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	// Provider API
	r.Group(func(r chi.Router) {
		r.Use(ProviderAuth(d.Providers))
		r.Route("/slots", func(r chi.Router) {
			r.Post("/", provider.CreateSlot)
			r.Get("/", provider.ListSlots)
			r.Put("/{id}", provider.UpdateSlot)
			r.Delete("/{id}", provider.DeleteSlot)
			r.Post("/{id}/publish", provider.Publish)
			r.Post("/{id}/unpublish", provider.Unpublish)
			r.Get("/{id}/bookings", provider.ListBookings)
		})
		r.Post("/bookings/{id}/cancel", provider.CancelBooking)
		r.Get("/quota", provider.Quota)
	})

	// Public API
	r.Group(func(r chi.Router) {
		r.Use(throttle)
		r.Post("/providers", public.RegisterProvider)
		r.Route("/public", func(r chi.Router) {
			r.Get("/slots", public.ListSlots)
			r.Post("/book", public.Book)
			r.Get("/confirm", public.Confirm)
			r.Get("/cancel", public.Cancel)
		})
		r.Route("/api/alerts", func(r chi.Router) {
			r.Post("/", alerts.Create)
			r.Get("/stats", alerts.Stats)
			r.Get("/verify", alerts.Verify)
			r.Post("/{key}/cancel", alerts.Cancel)
			r.Delete("/{key}", alerts.Delete)
		})
	})

	return r
}
