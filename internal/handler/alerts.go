package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/slot-broker/internal/alert"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
)

// AlertHandler serves the alert subscription API.
type AlertHandler struct {
	subs *alert.Subscriptions
}

// NewAlertHandler constructs an AlertHandler.
func NewAlertHandler(subs *alert.Subscriptions) *AlertHandler {
	return &AlertHandler{subs: subs}
}

// Create handles POST /api/alerts
func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	created, err := h.subs.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Stats handles GET /api/alerts/stats?email=
func (h *AlertHandler) Stats(w http.ResponseWriter, r *http.Request) {
	u, err := h.subs.Stats(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Verify handles GET /api/alerts/verify?token=
func (h *AlertHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Cancel handles POST /api/alerts/{key}/cancel
func (h *AlertHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Cancel(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Delete handles DELETE /api/alerts/{key}
func (h *AlertHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.subs.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
