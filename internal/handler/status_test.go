package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

func TestStatusOf(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		err  error
		want int
	}{
		{service.NotFound("slot_not_found"), http.StatusNotFound},
		{service.BadInput("missing_fields"), http.StatusBadRequest},
		{service.InvalidState("not_draft"), http.StatusConflict},
		{service.ErrQuotaExceeded, http.StatusConflict},
		{service.ErrSlotFull, http.StatusConflict},
		{service.ErrAlreadyCanceled, http.StatusConflict},
		{service.ErrNotBookable, http.StatusConflict},
		{service.ErrExpired, http.StatusGone},
		{fmt.Errorf("publish slot: %w", service.ErrQuotaExceeded), http.StatusConflict},
		{fmt.Errorf("sum capacity: %w", repository.ErrTransient), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, test := range tests {
		c.Check(statusOf(test.err), qt.Equals, test.want, qt.Commentf("%v", test.err))
	}
}
