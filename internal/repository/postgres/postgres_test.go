package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock/testclock"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/slot-broker/internal/alert"
	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
	"github.com/Shivanand-hulikatti/slot-broker/internal/database"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/notify"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

var epoch = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

// newStore connects to TEST_DATABASE_URL and empties every table.
func newStore(c *qt.C) *postgres.Store {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		c.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	c.Assert(err, qt.IsNil)
	c.Cleanup(pool.Close)
	c.Assert(database.Migrate(ctx, pool), qt.IsNil)
	_, err = pool.Exec(ctx, `TRUNCATE provider, slot, publish_quota, booking, alert_subscription CASCADE`)
	c.Assert(err, qt.IsNil)
	return postgres.NewStore(pool)
}

func createProvider(c *qt.C, store repository.Store, limit *int) *model.Provider {
	ctx := context.Background()
	p := &model.Provider{Email: "pg@example.com", CompanyName: "PG Praxis", MonthlyPublishLimit: limit, CreatedAt: epoch}
	c.Assert(store.InTx(ctx, func(tx repository.Tx) error { return tx.CreateProvider(ctx, p) }), qt.IsNil)
	return p
}

func newBookings(store repository.Store, clk *testclock.Clock) *service.BookingManager {
	tokens := service.NewJWTTokens(config.Auth{Secret: "s", Issuer: "slot-broker", BookingTokenTTL: time.Hour}, clk)
	return service.NewBookingManager(store, service.BookingConfig{
		HoldTTL: 15 * time.Minute, DefaultFee: decimal.RequireFromString("2.00"), BaseURL: "http://test",
	}, clk, tokens, notify.NewRecorder())
}

func TestPublishConcurrentNoOvershoot(t *testing.T) {
	c := qt.New(t)
	store := newStore(c)
	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	limit := 5
	p := createProvider(c, store, &limit)

	ledger := service.NewQuotaLedger(service.QuotaConfig{BaseLimit: 3, Location: time.UTC, ResyncAttempts: 3, ResyncDelay: time.Millisecond})
	slots := service.NewSlotManager(store, ledger, clk, nil)

	var ids []string
	for i := 0; i < 12; i++ {
		start := epoch.Add(time.Duration(24+i) * time.Hour)
		s, err := slots.Create(ctx, p.ID, model.CreateSlotRequest{
			Title: "Termin", Category: "Physio", Capacity: 1, StartAt: start, EndAt: start.Add(time.Hour),
		})
		c.Assert(err, qt.IsNil)
		ids = append(ids, s.ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := slots.Publish(ctx, p.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case service.Reason(err) == "quota_exceeded":
				full++
			default:
				t.Errorf("unexpected publish error: %v", err)
			}
		}(id)
	}
	wg.Wait()
	c.Assert(ok, qt.Equals, 5)
	c.Assert(full, qt.Equals, 7)

	q, err := slots.Quota(ctx, p.ID, slots.CurrentMonth())
	c.Assert(err, qt.IsNil)
	c.Assert(q.Used, qt.Equals, 5)
	c.Assert(q.Limit, qt.Equals, 5)
}

func TestBookingCapacityAndExpiry(t *testing.T) {
	c := qt.New(t)
	store := newStore(c)
	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	p := createProvider(c, store, nil)

	ledger := service.NewQuotaLedger(service.QuotaConfig{BaseLimit: 3, Location: time.UTC, ResyncAttempts: 1, ResyncDelay: time.Millisecond})
	slots := service.NewSlotManager(store, ledger, clk, nil)
	bookings := newBookings(store, clk)

	start := epoch.Add(48 * time.Hour)
	s, err := slots.Create(ctx, p.ID, model.CreateSlotRequest{
		Title: "Termin", Category: "Physio", Capacity: 1, StartAt: start, EndAt: start.Add(time.Hour),
	})
	c.Assert(err, qt.IsNil)
	_, err = slots.Publish(ctx, p.ID, s.ID)
	c.Assert(err, qt.IsNil)

	customer := service.Customer{Name: "Kim", Email: "kim@example.com"}
	first, err := bookings.CreateHold(ctx, s.ID, customer)
	c.Assert(err, qt.IsNil)
	_, err = bookings.CreateHold(ctx, s.ID, customer)
	c.Assert(err, qt.ErrorIs, service.ErrSlotFull)

	clk.Advance(16 * time.Minute)
	second, err := bookings.CreateHold(ctx, s.ID, customer)
	c.Assert(err, qt.IsNil)

	_, err = bookings.Confirm(ctx, first.Token)
	c.Assert(err, qt.ErrorIs, service.ErrAlreadyCanceled)

	confirmed, err := bookings.Confirm(ctx, second.Token)
	c.Assert(err, qt.IsNil)
	c.Assert(confirmed.Status, qt.Equals, model.BookingConfirmed)
	c.Assert(confirmed.Fee.Equal(decimal.RequireFromString("2.00")), qt.IsTrue)

	list, err := bookings.Bookings(ctx, p.ID, s.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 2)
}

func TestDuplicateProviderEmail(t *testing.T) {
	c := qt.New(t)
	store := newStore(c)
	createProvider(c, store, nil)

	ctx := context.Background()
	dup := &model.Provider{Email: "pg@example.com", CompanyName: "Twin"}
	err := store.InTx(ctx, func(tx repository.Tx) error { return tx.CreateProvider(ctx, dup) })
	c.Assert(err, qt.ErrorIs, repository.ErrDuplicate)
}

func TestConcurrentHoldsNeverOverbook(t *testing.T) {
	c := qt.New(t)
	store := newStore(c)
	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	p := createProvider(c, store, nil)

	ledger := service.NewQuotaLedger(service.QuotaConfig{BaseLimit: 3, Location: time.UTC, ResyncAttempts: 1, ResyncDelay: time.Millisecond})
	slots := service.NewSlotManager(store, ledger, clk, nil)
	bookings := newBookings(store, clk)

	const capacity, holders = 3, 16
	start := epoch.Add(48 * time.Hour)
	s, err := slots.Create(ctx, p.ID, model.CreateSlotRequest{
		Title: "Termin", Category: "Physio", Capacity: capacity, StartAt: start, EndAt: start.Add(time.Hour),
	})
	c.Assert(err, qt.IsNil)
	_, err = slots.Publish(ctx, p.ID, s.ID)
	c.Assert(err, qt.IsNil)

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
			_, err := bookings.CreateHold(ctx, s.ID, customer)
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

	err = store.InTx(ctx, func(tx repository.Tx) error {
		active, err := tx.CountActiveBookings(ctx, s.ID)
		c.Check(active, qt.Equals, capacity)
		return err
	})
	c.Assert(err, qt.IsNil)
}

func TestConcurrentSubscriptionsRespectCeiling(t *testing.T) {
	c := qt.New(t)
	store := newStore(c)
	ctx := context.Background()
	subs := alert.NewSubscriptions(store, notify.NewRecorder(), testclock.NewClock(epoch), alert.Config{
		EmailLifetimeCap: 10, SMSQuotaMonth: 5, SubscriptionsPerEmail: 3, BaseURL: "http://test",
	})

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, limited int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := subs.Create(ctx, model.CreateAlertRequest{
				Email: "race@example.com", Zip: "10115", Categories: []string{"Physio"}, ViaEmail: true,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case service.Reason(err) == "alert_limit_reached":
				limited++
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()
	c.Assert(ok, qt.Equals, 3)
	c.Assert(limited, qt.Equals, 7)

	u, err := subs.Stats(ctx, "RACE@example.com")
	c.Assert(err, qt.IsNil)
	c.Assert(u.Used, qt.Equals, 3)
}
