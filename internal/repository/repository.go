// Package repository defines the transactional storage contract used by the
// lifecycle managers. Implementations live in the postgres and memory
// subpackages; both provide row-level exclusive locks inside a transaction.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate")

// ErrTransient marks a storage error that is safe to retry for read-only
// statements, such as a statement timeout or a dropped connection.
var ErrTransient = errors.New("transient storage error")

// Store runs units of work atomically.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise, so either every write made
	// through tx becomes visible or none does.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// SlotFilter narrows slot listings. Zero values do not filter.
type SlotFilter struct {
	ProviderID string
	Status     model.SlotStatus
	Category   string
	Zip        string
	StartFrom  time.Time
	Limit      int
}

// Tx is the set of statements available inside a transaction. Methods named
// Lock* take an exclusive row lock that is held until the transaction ends.
type Tx interface {
	CreateProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id string) (*model.Provider, error)

	CreateSlot(ctx context.Context, s *model.Slot) error
	GetSlot(ctx context.Context, id string) (*model.Slot, error)
	LockSlot(ctx context.Context, id string) (*model.Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]model.Slot, error)
	UpdateSlotStatus(ctx context.Context, id string, status model.SlotStatus, publishedAt *time.Time) error
	// UpdateSlot rewrites the editable fields of a slot. Status and
	// published_at are left alone.
	UpdateSlot(ctx context.Context, s *model.Slot) error
	DeleteSlot(ctx context.Context, id string) error

	// SumPublishedCapacity returns the total capacity of the provider's
	// PUBLISHED slots whose start lies in [from, to). A failed call leaves the
	// surrounding transaction usable, so callers may retry it.
	SumPublishedCapacity(ctx context.Context, providerID string, from, to time.Time) (int, error)

	// EnsureQuota inserts a (provider, month) row with used=0 unless present.
	EnsureQuota(ctx context.Context, providerID string, month time.Time, limit int) error
	LockQuota(ctx context.Context, providerID string, month time.Time) (*model.PublishQuota, error)
	GetQuota(ctx context.Context, providerID string, month time.Time) (*model.PublishQuota, error)
	UpdateQuota(ctx context.Context, q *model.PublishQuota) error

	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	LockBooking(ctx context.Context, id string) (*model.Booking, error)
	UpdateBooking(ctx context.Context, b *model.Booking) error
	CountActiveBookings(ctx context.Context, slotID string) (int, error)
	CountBookings(ctx context.Context, slotID string) (int, error)
	// ExpireHolds cancels HOLD bookings of the slot created before cutoff
	// and returns how many rows changed.
	ExpireHolds(ctx context.Context, slotID string, cutoff, canceledAt time.Time) (int, error)
	ListBookingsBySlot(ctx context.Context, slotID string) ([]model.Booking, error)

	CreateSubscription(ctx context.Context, a *model.AlertSubscription) error
	GetSubscriptionByVerifyToken(ctx context.Context, token string) (*model.AlertSubscription, error)
	GetSubscriptionByManageKey(ctx context.Context, key string) (*model.AlertSubscription, error)
	LockSubscription(ctx context.Context, id string) (*model.AlertSubscription, error)
	UpdateSubscription(ctx context.Context, a *model.AlertSubscription) error
	// ListAlertCandidates returns active, confirmed, not soft-deleted rows.
	ListAlertCandidates(ctx context.Context) ([]model.AlertSubscription, error)
	// LockSubscriptionEmail serializes subscription inserts of one email
	// until the transaction ends.
	LockSubscriptionEmail(ctx context.Context, email string) error
	// SubscriptionUsage counts every subscription of the email, soft-deleted
	// rows included, and returns the highest stored notification limit.
	SubscriptionUsage(ctx context.Context, email string) (used, limit int, err error)
}

// IsTransient reports whether err is marked as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
