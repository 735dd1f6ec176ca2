package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/slot-broker/internal/metrics"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/notify"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

// Customer identifies the person placing a hold.
type Customer struct {
	Name  string
	Email string
}

// HoldResult is a freshly placed hold. Token confirms or cancels it and is
// only ever delivered to the customer's email address.
type HoldResult struct {
	Booking   *model.Booking `json:"booking"`
	Token     string         `json:"-"`
	ExpiresAt time.Time      `json:"hold_expires_at"`
}

// BookingManager owns booking hold, confirm and cancel. Capacity is never
// stored: it is derived by counting HOLD and CONFIRMED rows under the slot
// lock each time it is checked.
type BookingManager struct {
	store    repository.Store
	cfg      BookingConfig
	clock    clock.Clock
	tokens   TokenCodec
	notifier notify.Notifier
}

// NewBookingManager constructs a BookingManager. Hold and confirmation
// mails go out through notifier.
func NewBookingManager(store repository.Store, cfg BookingConfig, clk clock.Clock, tokens TokenCodec, notifier notify.Notifier) *BookingManager {
	return &BookingManager{store: store, cfg: cfg, clock: clk, tokens: tokens, notifier: notifier}
}

func (m *BookingManager) now() time.Time {
	return m.clock.Now().UTC()
}

func (m *BookingManager) expired(b *model.Booking, now time.Time) bool {
	return b.Status == model.BookingHold && now.Sub(b.CreatedAt) > m.cfg.HoldTTL
}

func record(op string, err error) {
	metrics.BookingTotal.WithLabelValues(op, metrics.Result(err, Reason)).Inc()
}

// CreateHold places a HOLD on a published future slot if it has free
// capacity. Holds of the slot that outlived the TTL are canceled first.
// After the commit the customer is mailed the confirm and cancel links.
func (m *BookingManager) CreateHold(ctx context.Context, slotID string, c Customer) (_ *HoldResult, err error) {
	ctx, span := startSpan(ctx, "BookingManager.CreateHold")
	defer func() { endSpan(span, err) }()
	defer func() { record("hold", err) }()

	c.Name = strings.TrimSpace(c.Name)
	c.Email = NormalizeEmail(c.Email)
	if slotID == "" || c.Name == "" || c.Email == "" {
		return nil, BadInput("missing_fields")
	}
	if !ValidEmail(c.Email) {
		return nil, BadInput("invalid_email")
	}

	var res *HoldResult
	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return notFound(err, "slot_not_found", "lock slot")
		}
		now := m.now()
		if slot.Status != model.SlotPublished || !slot.StartAt.After(now) {
			return &Error{Kind: KindNotBookable, Reason: "not_bookable"}
		}

		reaped, err := tx.ExpireHolds(ctx, slot.ID, now.Add(-m.cfg.HoldTTL), now)
		if err != nil {
			return fmt.Errorf("expire holds: %w", err)
		}
		if reaped > 0 {
			zerolog.Ctx(ctx).Debug().Str("slot_id", slot.ID).Int("holds", reaped).Msg("expired holds reaped")
		}

		active, err := tx.CountActiveBookings(ctx, slot.ID)
		if err != nil {
			return fmt.Errorf("count active bookings: %w", err)
		}
		if active >= slot.Capacity {
			return &Error{Kind: KindSlotFull, Reason: "slot_full"}
		}

		fee, err := m.feeFor(ctx, tx, slot.ProviderID)
		if err != nil {
			return err
		}
		b := &model.Booking{
			ID:            uuid.New().String(),
			SlotID:        slot.ID,
			ProviderID:    slot.ProviderID,
			CustomerName:  c.Name,
			CustomerEmail: c.Email,
			Status:        model.BookingHold,
			Fee:           fee,
			CreatedAt:     now,
		}
		token, err := m.tokens.IssueBooking(b.ID)
		if err != nil {
			return fmt.Errorf("issue booking token: %w", err)
		}
		if err := tx.CreateBooking(ctx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		res = &HoldResult{Booking: b, Token: token, ExpiresAt: now.Add(m.cfg.HoldTTL)}
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "create hold")
	}

	body := fmt.Sprintf("Hello %s,\n\nplease confirm your booking:\n%s\n\nCancel:\n%s\n",
		c.Name, m.link("/public/confirm", res.Token), m.link("/public/cancel", res.Token))
	m.mail(ctx, res.Booking, "Please confirm your booking", body)
	return res, nil
}

func (m *BookingManager) link(path, token string) string {
	return m.cfg.BaseURL + path + "?token=" + url.QueryEscape(token)
}

// mail hands a customer mail to the notifier. A rejected mail is logged;
// the committed booking stands.
func (m *BookingManager) mail(ctx context.Context, b *model.Booking, subject, body string) {
	if m.notifier == nil {
		return
	}
	if !m.notifier.SendEmail(ctx, b.CustomerEmail, subject, body) {
		zerolog.Ctx(ctx).Warn().Str("booking_id", b.ID).Str("subject", subject).Msg("booking email not sent")
	}
}

func (m *BookingManager) feeFor(ctx context.Context, tx repository.Tx, providerID string) (decimal.Decimal, error) {
	p, err := tx.GetProvider(ctx, providerID)
	if err != nil {
		return decimal.Zero, notFound(err, "provider_not_found", "get provider")
	}
	if p.BookingFee != nil {
		return *p.BookingFee, nil
	}
	return m.cfg.DefaultFee, nil
}

// lockForUpdate locks the booking's slot and then the booking, in that
// order, and returns both.
func lockForUpdate(ctx context.Context, tx repository.Tx, bookingID string) (*model.Slot, *model.Booking, error) {
	b, err := tx.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, notFound(err, "booking_not_found", "get booking")
	}
	slot, err := tx.LockSlot(ctx, b.SlotID)
	if err != nil {
		return nil, nil, notFound(err, "slot_not_found", "lock slot")
	}
	b, err = tx.LockBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, notFound(err, "booking_not_found", "lock booking")
	}
	return slot, b, nil
}

// Confirm turns a HOLD into CONFIRMED. A hold past its TTL is canceled and
// reported as expired; a hold that no longer fits the slot's capacity is
// canceled and reported as slot full. Both cancellations are committed.
// The first successful confirmation mails the customer.
func (m *BookingManager) Confirm(ctx context.Context, token string) (_ *model.Booking, err error) {
	ctx, span := startSpan(ctx, "BookingManager.Confirm")
	defer func() { endSpan(span, err) }()
	defer func() { record("confirm", err) }()

	id, err := m.tokens.ParseBooking(token)
	if err != nil {
		return nil, err
	}

	var (
		out       *model.Booking
		outcome   error
		confirmed bool
	)
	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		slot, b, err := lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		out = b

		switch b.Status {
		case model.BookingCanceled:
			return &Error{Kind: KindAlreadyCanceled, Reason: "already_canceled"}
		case model.BookingConfirmed:
			return nil
		}

		now := m.now()
		if m.expired(b, now) {
			outcome = &Error{Kind: KindExpired, Reason: "hold_expired"}
			return m.cancel(ctx, tx, b, now)
		}

		if _, err := tx.ExpireHolds(ctx, slot.ID, now.Add(-m.cfg.HoldTTL), now); err != nil {
			return fmt.Errorf("expire holds: %w", err)
		}
		active, err := tx.CountActiveBookings(ctx, slot.ID)
		if err != nil {
			return fmt.Errorf("count active bookings: %w", err)
		}
		if active > slot.Capacity {
			outcome = &Error{Kind: KindSlotFull, Reason: "slot_full"}
			return m.cancel(ctx, tx, b, now)
		}

		b.Status = model.BookingConfirmed
		b.ConfirmedAt = &now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		confirmed = true
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "confirm booking")
	}
	if outcome != nil {
		return nil, outcome
	}
	if confirmed {
		m.mail(ctx, out, "Booking confirmed", fmt.Sprintf("Hello %s,\n\nyour booking is confirmed.\n", out.CustomerName))
	}
	return out, nil
}

func (m *BookingManager) cancel(ctx context.Context, tx repository.Tx, b *model.Booking, now time.Time) error {
	b.Status = model.BookingCanceled
	b.CanceledAt = &now
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

// Cancel cancels the booking named by a booking token.
func (m *BookingManager) Cancel(ctx context.Context, token string) (*model.Booking, error) {
	id, err := m.tokens.ParseBooking(token)
	if err != nil {
		record("cancel", err)
		return nil, err
	}
	return m.cancelBooking(ctx, id, "")
}

// CancelByProvider cancels one of the provider's bookings.
func (m *BookingManager) CancelByProvider(ctx context.Context, providerID, bookingID string) (*model.Booking, error) {
	if providerID == "" {
		return nil, BadInput("missing_fields")
	}
	return m.cancelBooking(ctx, bookingID, providerID)
}

// cancelBooking moves HOLD or CONFIRMED to CANCELED. An already canceled
// booking fails with ErrAlreadyCanceled and is left untouched.
func (m *BookingManager) cancelBooking(ctx context.Context, bookingID, providerID string) (_ *model.Booking, err error) {
	ctx, span := startSpan(ctx, "BookingManager.Cancel")
	defer func() { endSpan(span, err) }()
	defer func() { record("cancel", err) }()

	var out *model.Booking
	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		_, b, err := lockForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if providerID != "" && b.ProviderID != providerID {
			return NotFound("booking_not_found")
		}
		if b.Status == model.BookingCanceled {
			return &Error{Kind: KindAlreadyCanceled, Reason: "already_canceled"}
		}
		out = b
		return m.cancel(ctx, tx, b, m.now())
	})
	if err != nil {
		return nil, passThrough(err, "cancel booking")
	}
	return out, nil
}

// Bookings lists the bookings of one of the provider's slots.
func (m *BookingManager) Bookings(ctx context.Context, providerID, slotID string) ([]model.Booking, error) {
	var out []model.Booking
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		slot, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return notFound(err, "not_found", "get slot")
		}
		if slot.ProviderID != providerID {
			return NotFound("not_found")
		}
		out, err = tx.ListBookingsBySlot(ctx, slotID)
		return err
	})
	if err != nil {
		return nil, passThrough(err, "list bookings")
	}
	return out, nil
}
