package service

import (
	"errors"
	"fmt"
)

// Kind classifies a business error. Callers branch on the kind; the reason
// is a stable machine-readable code that is safe to show to clients.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidState
	KindQuotaExceeded
	KindSlotFull
	KindExpired
	KindAlreadyCanceled
	KindBadInput
	KindNotBookable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindSlotFull:
		return "slot_full"
	case KindExpired:
		return "expired"
	case KindAlreadyCanceled:
		return "already_canceled"
	case KindBadInput:
		return "bad_input"
	case KindNotBookable:
		return "not_bookable"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a terminal business outcome. It is never retried.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" || e.Reason == e.Kind.String() {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Reason
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSlotFull)
// holds regardless of the reason.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrQuotaExceeded   = &Error{Kind: KindQuotaExceeded}
	ErrSlotFull        = &Error{Kind: KindSlotFull}
	ErrExpired         = &Error{Kind: KindExpired}
	ErrAlreadyCanceled = &Error{Kind: KindAlreadyCanceled}
	ErrBadInput        = &Error{Kind: KindBadInput}
	ErrNotBookable     = &Error{Kind: KindNotBookable}
)

func newError(k Kind, reason string) *Error {
	return &Error{Kind: k, Reason: reason}
}

// BadInput returns a validation error with the given reason code.
func BadInput(reason string) error {
	return newError(KindBadInput, reason)
}

// NotFound returns a not-found error with the given reason code.
func NotFound(reason string) error {
	return newError(KindNotFound, reason)
}

// InvalidState returns a state-machine violation with the given reason code.
func InvalidState(reason string) error {
	return newError(KindInvalidState, reason)
}

// Reason extracts the reason code of a business error, or "" for any other
// error.
func Reason(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Reason
}
