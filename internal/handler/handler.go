// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusOf maps a service error onto an HTTP status.
func statusOf(err error) int {
	var e *service.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case service.KindNotFound:
			return http.StatusNotFound
		case service.KindBadInput:
			return http.StatusBadRequest
		case service.KindExpired:
			return http.StatusGone
		case service.KindInvalidState, service.KindQuotaExceeded, service.KindSlotFull,
			service.KindAlreadyCanceled, service.KindNotBookable:
			return http.StatusConflict
		}
	}
	if repository.IsTransient(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError renders err as {"error": reason}. Storage failures are
// logged and never shown to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if reason := service.Reason(err); reason != "" {
		writeError(w, status, reason)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	if status == http.StatusServiceUnavailable {
		writeError(w, status, "temporarily_unavailable")
		return
	}
	writeError(w, status, "internal_error")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, service.BadInput("invalid_" + key)
	}
	return v, nil
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
