// Package model defines the core domain types for the slot broker.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider offers bookable slots and owns a monthly publish quota.
type Provider struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	CompanyName string  `json:"company_name"`
	Street      *string `json:"street,omitempty"`
	Zip         *string `json:"zip,omitempty"`
	City        *string `json:"city,omitempty"`

	// MonthlyPublishLimit is the raw plan value: nil or 0 selects the base
	// limit, a negative value means unlimited, a positive value is an exact cap.
	MonthlyPublishLimit *int `json:"monthly_publish_limit,omitempty"`

	// BookingFee is snapshotted into every booking; nil selects the default fee.
	BookingFee *decimal.Decimal `json:"booking_fee,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// SlotStatus is the lifecycle state of a slot.
type SlotStatus string

const (
	SlotDraft     SlotStatus = "DRAFT"
	SlotPublished SlotStatus = "PUBLISHED"
	SlotExpired   SlotStatus = "EXPIRED"
	SlotCanceled  SlotStatus = "CANCELED"
)

// Slot is a provider-defined bookable time window with finite capacity.
type Slot struct {
	ID          string     `json:"id"`
	ProviderID  string     `json:"provider_id"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Status      SlotStatus `json:"status"`
	Capacity    int        `json:"capacity"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       time.Time  `json:"end_at"`
	Zip         *string    `json:"zip,omitempty"`
	City        *string    `json:"city,omitempty"`
	Location    *string    `json:"location,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Unlimited is the stored limit value of a quota row without a cap.
const Unlimited = -1

// PublishQuota counts the capacity units a provider published for one month.
type PublishQuota struct {
	ProviderID string    `json:"provider_id"`
	Month      time.Time `json:"month"`
	Used       int       `json:"used"`
	Limit      int       `json:"limit"`
}

// IsUnlimited reports whether the row carries no cap.
func (q *PublishQuota) IsUnlimited() bool {
	return q.Limit < 0
}

// Remaining returns the capacity units still publishable this month, or -1
// when the row is unlimited.
func (q *PublishQuota) Remaining() int {
	if q.IsUnlimited() {
		return Unlimited
	}
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingHold      BookingStatus = "HOLD"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCanceled  BookingStatus = "CANCELED"
)

// ActiveBookingStatuses are the statuses that occupy slot capacity.
var ActiveBookingStatuses = []BookingStatus{BookingHold, BookingConfirmed}

// IsActive reports whether the status occupies capacity.
func (s BookingStatus) IsActive() bool {
	return s == BookingHold || s == BookingConfirmed
}

// Booking is a customer's reservation against a slot.
type Booking struct {
	ID            string          `json:"id"`
	SlotID        string          `json:"slot_id"`
	ProviderID    string          `json:"provider_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Status        BookingStatus   `json:"status"`
	Fee           decimal.Decimal `json:"fee"`
	CreatedAt     time.Time       `json:"created_at"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CanceledAt    *time.Time      `json:"canceled_at,omitempty"`
}

// AlertSubscription is a saved search that triggers notifications when a
// matching slot is published.
type AlertSubscription struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	Zip        string   `json:"zip"`
	City       *string  `json:"city,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
	RadiusKm   float64  `json:"radius_km"`
	Categories []string `json:"categories"`

	ViaEmail bool    `json:"via_email"`
	ViaSMS   bool    `json:"via_sms"`
	Phone    *string `json:"phone,omitempty"`

	Active         bool       `json:"active"`
	EmailConfirmed bool       `json:"email_confirmed"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`

	EmailSentTotal   int        `json:"email_sent_total"`
	SMSSentThisMonth int        `json:"sms_sent_this_month"`
	SMSQuotaMonth    int        `json:"sms_quota_month"`
	SMSMonth         *time.Time `json:"sms_month,omitempty"`

	NotificationLimit int `json:"notification_limit"`

	VerifyToken    string     `json:"-"`
	ManageKey      string     `json:"-"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HasCoordinates reports whether the subscription location is resolved.
func (a *AlertSubscription) HasCoordinates() bool {
	return a.Lat != nil && a.Lon != nil
}

// IsCandidate reports whether the subscription may receive alerts at all.
func (a *AlertSubscription) IsCandidate() bool {
	return a.Active && a.EmailConfirmed && a.DeletedAt == nil
}

// UpdateSlotRequest edits a draft slot. Nil fields keep their value.
type UpdateSlotRequest struct {
	Title    *string    `json:"title,omitempty"`
	Category *string    `json:"category,omitempty"`
	StartAt  *time.Time `json:"start_at,omitempty"`
	EndAt    *time.Time `json:"end_at,omitempty"`
	Capacity *int       `json:"capacity,omitempty"`
	Zip      *string    `json:"zip,omitempty"`
	City     *string    `json:"city,omitempty"`
	Location *string    `json:"location,omitempty"`
}

// CreateSlotRequest is the payload for creating a draft slot.
type CreateSlotRequest struct {
	Title    string    `json:"title"`
	Category string    `json:"category"`
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	Capacity int       `json:"capacity"`
	Zip      *string   `json:"zip,omitempty"`
	City     *string   `json:"city,omitempty"`
	Location *string   `json:"location,omitempty"`
}

// BookRequest is the payload for placing a hold on a slot.
type BookRequest struct {
	SlotID string `json:"slot_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// CreateAlertRequest is the payload for a new alert subscription.
type CreateAlertRequest struct {
	Email      string   `json:"email"`
	Zip        string   `json:"zip"`
	City       *string  `json:"city,omitempty"`
	RadiusKm   float64  `json:"radius_km"`
	Categories []string `json:"categories"`
	ViaEmail   bool     `json:"via_email"`
	ViaSMS     bool     `json:"via_sms"`
	Phone      *string  `json:"phone,omitempty"`
}

// RegisterProviderRequest is the payload for signing up a provider.
// The publish limit is not part of it: plans are assigned by the operator.
type RegisterProviderRequest struct {
	Email       string           `json:"email"`
	CompanyName string           `json:"company_name"`
	Street      *string          `json:"street,omitempty"`
	Zip         *string          `json:"zip,omitempty"`
	City        *string          `json:"city,omitempty"`
	BookingFee  *decimal.Decimal `json:"booking_fee,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
