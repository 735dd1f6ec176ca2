package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/notify"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository/memory"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

var epoch = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type recordingHook struct {
	mu    sync.Mutex
	slots []model.Slot
}

func (h *recordingHook) SlotPublished(_ context.Context, s model.Slot, _ model.Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots = append(h.slots, s)
}

func (h *recordingHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slots)
}

type fixture struct {
	c        *qt.C
	ctx      context.Context
	store    *memory.Store
	clock    *testclock.Clock
	ledger   *service.QuotaLedger
	slots    *service.SlotManager
	bookings *service.BookingManager
	tokens   *service.JWTTokens
	hook     *recordingHook
	mails    *notify.Recorder

	providers int
}

func newFixture(c *qt.C) *fixture {
	loc, err := time.LoadLocation("Europe/Berlin")
	c.Assert(err, qt.IsNil)

	f := &fixture{
		c:     c,
		ctx:   context.Background(),
		store: memory.NewStore(),
		clock: testclock.NewClock(epoch),
		hook:  &recordingHook{},
		mails: notify.NewRecorder(),
	}
	f.ledger = service.NewQuotaLedger(service.QuotaConfig{
		BaseLimit:      3,
		Location:       loc,
		ResyncAttempts: 3,
		ResyncDelay:    time.Millisecond,
	})
	f.tokens = service.NewJWTTokens(config.Auth{
		Secret:           "test-secret",
		Issuer:           "slot-broker",
		BookingTokenTTL:  6 * time.Hour,
		ProviderAudience: "slot-broker-client",
	}, f.clock)
	f.slots = service.NewSlotManager(f.store, f.ledger, f.clock, f.hook)
	f.bookings = service.NewBookingManager(f.store, service.BookingConfig{
		HoldTTL:    15 * time.Minute,
		DefaultFee: decimal.RequireFromString("2.00"),
		BaseURL:    "http://broker.test",
	}, f.clock, f.tokens, f.mails)
	return f
}

func (f *fixture) provider(limit *int) *model.Provider {
	f.providers++
	p := &model.Provider{
		Email:               fmt.Sprintf("provider%d@example.com", f.providers),
		CompanyName:         "Praxis Nord",
		MonthlyPublishLimit: limit,
	}
	err := f.store.InTx(f.ctx, func(tx repository.Tx) error {
		return tx.CreateProvider(f.ctx, p)
	})
	f.c.Assert(err, qt.IsNil)
	return p
}

// draft creates a DRAFT slot starting at the given offset from the epoch.
func (f *fixture) draft(providerID string, capacity int, in time.Duration) *model.Slot {
	start := epoch.Add(in)
	s, err := f.slots.Create(f.ctx, providerID, model.CreateSlotRequest{
		Title:    "Appointment",
		Category: "Physiotherapy",
		StartAt:  start,
		EndAt:    start.Add(time.Hour),
		Capacity: capacity,
	})
	f.c.Assert(err, qt.IsNil)
	return s
}

func (f *fixture) published(providerID string, capacity int) *model.Slot {
	s := f.draft(providerID, capacity, 48*time.Hour)
	_, err := f.slots.Publish(f.ctx, providerID, s.ID)
	f.c.Assert(err, qt.IsNil)
	return s
}

func (f *fixture) used(providerID string, at time.Time) int {
	q, err := f.slots.Quota(f.ctx, providerID, f.ledger.MonthOf(at))
	f.c.Assert(err, qt.IsNil)
	return q.Used
}

func intp(v int) *int { return &v }
