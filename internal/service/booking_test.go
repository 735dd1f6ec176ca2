package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/notify"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

var (
	ann = service.Customer{Name: "Ann", Email: "ann@example.com"}
	bob = service.Customer{Name: "Bob", Email: "bob@example.com"}
	cat = service.Customer{Name: "Cat", Email: "cat@example.com"}
)

func TestCapacityBoundaryWithExpiry(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(nil)
	s := f.published(p.ID, 2)

	first, err := f.bookings.CreateHold(f.ctx, s.ID, ann)
	c.Assert(err, qt.IsNil)
	c.Assert(first.Booking.Status, qt.Equals, model.BookingHold)
	_, err = f.bookings.CreateHold(f.ctx, s.ID, bob)
	c.Assert(err, qt.IsNil)

	_, err = f.bookings.CreateHold(f.ctx, s.ID, cat)
	c.Assert(errors.Is(err, service.ErrSlotFull), qt.IsTrue)

	f.clock.Advance(16 * time.Minute)
	_, err = f.bookings.Confirm(f.ctx, first.Token)
	c.Assert(errors.Is(err, service.ErrExpired), qt.IsTrue)

	err = f.store.InTx(f.ctx, func(tx repository.Tx) error {
		b, err := tx.GetBooking(f.ctx, first.Booking.ID)
		c.Assert(err, qt.IsNil)
		c.Check(b.Status, qt.Equals, model.BookingCanceled)
		c.Check(b.CanceledAt, qt.IsNotNil)
		return nil
	})
	c.Assert(err, qt.IsNil)

	_, err = f.bookings.CreateHold(f.ctx, s.ID, cat)
	c.Assert(err, qt.IsNil)
}

func TestHoldWithinTTLConfirms(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(nil)
	s := f.published(p.ID, 1)

	hold, err := f.bookings.CreateHold(f.ctx, s.ID, ann)
	c.Assert(err, qt.IsNil)
	c.Assert(hold.ExpiresAt, qt.Equals, epoch.Add(15*time.Minute))

	f.clock.Advance(15 * time.Minute)
	b, err := f.bookings.Confirm(f.ctx, hold.Token)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Status, qt.Equals, model.BookingConfirmed)
	c.Assert(b.ConfirmedAt, qt.IsNotNil)

	// Confirming again returns the booking unchanged.
	again, err := f.bookings.Confirm(f.ctx, hold.Token)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Status, qt.Equals, model.BookingConfirmed)
	c.Assert(*again.ConfirmedAt, qt.Equals, *b.ConfirmedAt)

	// A confirmed booking is never reaped.
	f.clock.Advance(time.Hour)
	_, err = f.bookings.CreateHold(f.ctx, s.ID, bob)
	c.Assert(errors.Is(err, service.ErrSlotFull), qt.IsTrue)
}

func TestConfirmRecountCancelsOverbookedHold(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(nil)
	s := f.published(p.ID, 1)

	hold, err := f.bookings.CreateHold(f.ctx, s.ID, ann)
	c.Assert(err, qt.IsNil)

	// A second hold that slipped past the capacity check.
	err = f.store.InTx(f.ctx, func(tx repository.Tx) error {
		return tx.CreateBooking(f.ctx, &model.Booking{
			SlotID: s.ID, ProviderID: p.ID, CustomerName: "Bob", CustomerEmail: bob.Email,
			Status: model.BookingConfirmed, CreatedAt: epoch,
		})
	})
	c.Assert(err, qt.IsNil)

	_, err = f.bookings.Confirm(f.ctx, hold.Token)
	c.Assert(errors.Is(err, service.ErrSlotFull), qt.IsTrue)

	_, err = f.bookings.Confirm(f.ctx, hold.Token)
	c.Assert(errors.Is(err, service.ErrAlreadyCanceled), qt.IsTrue)
}

func TestCancelIsIdempotent(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(nil)
	s := f.published(p.ID, 1)

	hold, err := f.bookings.CreateHold(f.ctx, s.ID, ann)
	c.Assert(err, qt.IsNil)

	b, err := f.bookings.Cancel(f.ctx, hold.Token)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Status, qt.Equals, model.BookingCanceled)
	canceledAt := *b.CanceledAt

	f.clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		_, err = f.bookings.Cancel(f.ctx, hold.Token)
		c.Assert(errors.Is(err, service.ErrAlreadyCanceled), qt.IsTrue)
	}

	err = f.store.InTx(f.ctx, func(tx repository.Tx) error {
		got, err := tx.GetBooking(f.ctx, b.ID)
		c.Assert(err, qt.IsNil)
		c.Check(*got.CanceledAt, qt.Equals, canceledAt)
		return nil
	})
	c.Assert(err, qt.IsNil)

	// The released capacity is available again.
	_, err = f.bookings.CreateHold(f.ctx, s.ID, bob)
	c.Assert(err, qt.IsNil)
}

func TestCancelByProvider(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(nil)
	other := f.provider(nil)
	s := f.published(p.ID, 1)

	hold, err := f.bookings.CreateHold(f.ctx, s.ID, ann)
	c.Assert(err, qt.IsNil)

	_, err = f.bookings.CancelByProvider(f.ctx, other.ID, hold.Booking.ID)
	c.Assert(errors.Is(err, service.ErrNotFound), qt.IsTrue)

	b, err := f.bookings.CancelByProvider(f.ctx, p.ID, hold.Booking.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Status, qt.Equals, model.BookingCanceled)

	_, err = f.bookings.CancelByProvider(f.ctx, p.ID, hold.Booking.ID)
	c.Assert(errors.Is(err, service.ErrAlreadyCanceled), qt.IsTrue)

	list, err := f.bookings.Bookings(f.ctx, p.ID, s.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 1)
}

func TestHoldRequiresBookableSlot(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(nil)
	draft := f.draft(p.ID, 1, 48*time.Hour)

	_, err := f.bookings.CreateHold(f.ctx, draft.ID, ann)
	c.Assert(errors.Is(err, service.ErrNotBookable), qt.IsTrue)

	_, err = f.bookings.CreateHold(f.ctx, "missing", ann)
	c.Assert(errors.Is(err, service.ErrNotFound), qt.IsTrue)

	s := f.published(p.ID, 1)
	f.clock.Advance(49 * time.Hour)
	_, err = f.bookings.CreateHold(f.ctx, s.ID, ann)
	c.Assert(errors.Is(err, service.ErrNotBookable), qt.IsTrue)

	_, err = f.bookings.CreateHold(f.ctx, s.ID, service.Customer{Name: "Ann", Email: "not-an-email"})
	c.Assert(service.Reason(err), qt.Equals, "invalid_email")
}

func TestFeeSnapshot(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)

	plain := f.provider(nil)
	hold, err := f.bookings.CreateHold(f.ctx, f.published(plain.ID, 1).ID, ann)
	c.Assert(err, qt.IsNil)
	c.Assert(hold.Booking.Fee.Equal(decimal.RequireFromString("2.00")), qt.IsTrue)

	fee := decimal.RequireFromString("3.50")
	custom := &model.Provider{Email: "b@example.com", CompanyName: "B", BookingFee: &fee}
	c.Assert(f.store.InTx(f.ctx, func(tx repository.Tx) error { return tx.CreateProvider(f.ctx, custom) }), qt.IsNil)
	hold, err = f.bookings.CreateHold(f.ctx, f.published(custom.ID, 1).ID, ann)
	c.Assert(err, qt.IsNil)
	c.Assert(hold.Booking.Fee.Equal(fee), qt.IsTrue)
}

func TestBookingTokens(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)

	token, err := f.tokens.IssueBooking("b-1")
	c.Assert(err, qt.IsNil)
	id, err := f.tokens.ParseBooking(token)
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, "b-1")

	// Provider tokens are not booking tokens.
	access, err := f.tokens.IssueProvider("p-1", time.Hour)
	c.Assert(err, qt.IsNil)
	_, err = f.tokens.ParseBooking(access)
	c.Assert(service.Reason(err), qt.Equals, "invalid_token")
	pid, err := f.tokens.ParseProvider(access)
	c.Assert(err, qt.IsNil)
	c.Assert(pid, qt.Equals, "p-1")

	f.clock.Advance(7 * time.Hour)
	_, err = f.tokens.ParseBooking(token)
	c.Assert(errors.Is(err, service.ErrExpired), qt.IsTrue)

	_, err = f.bookings.Confirm(f.ctx, "garbage")
	c.Assert(errors.Is(err, service.ErrBadInput), qt.IsTrue)
}

func TestHoldAndConfirmMailCustomer(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(nil)
	s := f.published(p.ID, 1)

	hold, err := f.bookings.CreateHold(f.ctx, s.ID, ann)
	c.Assert(err, qt.IsNil)

	mails := f.mails.Messages(notify.ChannelEmail)
	c.Assert(mails, qt.HasLen, 1)
	c.Assert(mails[0].To, qt.Equals, ann.Email)
	q := url.QueryEscape(hold.Token)
	c.Assert(strings.Contains(mails[0].Body, "http://broker.test/public/confirm?token="+q), qt.IsTrue)
	c.Assert(strings.Contains(mails[0].Body, "http://broker.test/public/cancel?token="+q), qt.IsTrue)

	_, err = f.bookings.Confirm(f.ctx, hold.Token)
	c.Assert(err, qt.IsNil)
	_, err = f.bookings.Confirm(f.ctx, hold.Token)
	c.Assert(err, qt.IsNil)

	mails = f.mails.Messages(notify.ChannelEmail)
	c.Assert(mails, qt.HasLen, 2)
	c.Assert(mails[1].Subject, qt.Equals, "Booking confirmed")

	// A rejected mail does not undo the hold.
	f.mails.SetEmailOK(false)
	_, err = f.bookings.CreateHold(f.ctx, f.published(p.ID, 1).ID, bob)
	c.Assert(err, qt.IsNil)
}

func TestConcurrentHoldsNeverOverbook(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	p := f.provider(intp(-1))
	const capacity, holders = 4, 12
	s := f.published(p.ID, capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			customer := service.Customer{Name: "Guest", Email: fmt.Sprintf("guest%d@example.com", i)}
			_, err := f.bookings.CreateHold(context.Background(), s.ID, customer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, service.ErrSlotFull):
				full++
			default:
				t.Errorf("unexpected hold error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	c.Assert(ok, qt.Equals, capacity)
	c.Assert(full, qt.Equals, holders-capacity)

	err := f.store.InTx(f.ctx, func(tx repository.Tx) error {
		active, err := tx.CountActiveBookings(f.ctx, s.ID)
		c.Check(active, qt.Equals, capacity)
		return err
	})
	c.Assert(err, qt.IsNil)
}
