package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

// ProviderHandler serves the authenticated provider API.
type ProviderHandler struct {
	slots    *service.SlotManager
	bookings *service.BookingManager
}

// NewProviderHandler constructs a ProviderHandler.
func NewProviderHandler(slots *service.SlotManager, bookings *service.BookingManager) *ProviderHandler {
	return &ProviderHandler{slots: slots, bookings: bookings}
}

// CreateSlot handles POST /slots
func (h *ProviderHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	slot, err := h.slots.Create(r.Context(), ProviderID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

// ListSlots handles GET /slots?status=
func (h *ProviderHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	status := model.SlotStatus(strings.ToUpper(r.URL.Query().Get("status")))
	slots, err := h.slots.List(r.Context(), ProviderID(r.Context()), status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []model.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

// UpdateSlot handles PUT /slots/{id}
func (h *ProviderHandler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	slot, err := h.slots.Update(r.Context(), ProviderID(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// DeleteSlot handles DELETE /slots/{id}
func (h *ProviderHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	if err := h.slots.Delete(r.Context(), ProviderID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /slots/{id}/publish
func (h *ProviderHandler) Publish(w http.ResponseWriter, r *http.Request) {
	res, err := h.slots.Publish(r.Context(), ProviderID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Unpublish handles POST /slots/{id}/unpublish
func (h *ProviderHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	res, err := h.slots.Unpublish(r.Context(), ProviderID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListBookings handles GET /slots/{id}/bookings
func (h *ProviderHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookings.Bookings(r.Context(), ProviderID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// CancelBooking handles POST /bookings/{id}/cancel
func (h *ProviderHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.CancelByProvider(r.Context(), ProviderID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type quotaResponse struct {
	Month     string `json:"month"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// Quota handles GET /quota?month=YYYY-MM
func (h *ProviderHandler) Quota(w http.ResponseWriter, r *http.Request) {
	month := h.slots.CurrentMonth()
	if raw := r.URL.Query().Get("month"); raw != "" {
		m, err := service.ParseMonth(raw)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		month = m
	}

	q, err := h.slots.Quota(r.Context(), ProviderID(r.Context()), month)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{
		Month:     month.UTC().Format("2006-01"),
		Used:      q.Used,
		Limit:     q.Limit,
		Remaining: q.Remaining(),
		Unlimited: q.IsUnlimited(),
	})
}

// ─── Public API ───────────────────────────────────────────────────────────────

// PublicHandler serves the anonymous customer API.
type PublicHandler struct {
	slots     *service.SlotManager
	bookings  *service.BookingManager
	providers *service.Providers
}

// NewPublicHandler constructs a PublicHandler.
func NewPublicHandler(slots *service.SlotManager, bookings *service.BookingManager, providers *service.Providers) *PublicHandler {
	return &PublicHandler{slots: slots, bookings: bookings, providers: providers}
}

// RegisterProvider handles POST /providers
func (h *PublicHandler) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterProviderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	reg, err := h.providers.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

const (
	defaultPublicLimit = 50
	maxPublicLimit     = 200
)

// ListSlots handles GET /public/slots?category=&zip=&limit=
func (h *PublicHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPublicLimit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	switch {
	case limit == 0:
		limit = defaultPublicLimit
	case limit > maxPublicLimit:
		limit = maxPublicLimit
	}
	q := r.URL.Query()
	slots, err := h.slots.ListPublic(r.Context(), q.Get("category"), q.Get("zip"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []model.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

// holdResponse leaves out the booking token: it is mailed to the customer.
type holdResponse struct {
	Booking   *model.Booking `json:"booking"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Book handles POST /public/book
func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req model.BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	res, err := h.bookings.CreateHold(r.Context(), req.SlotID, service.Customer{Name: req.Name, Email: req.Email})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, holdResponse{Booking: res.Booking, ExpiresAt: res.ExpiresAt})
}

// Confirm handles GET /public/confirm?token=
func (h *PublicHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Confirm(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Cancel handles GET /public/cancel?token=
func (h *PublicHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Cancel(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
