// Package memory is an in-process repository.Store. Transactions are
// serialized by one mutex and operate on a private copy of the data, which
// is swapped in on commit and discarded on rollback.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

type quotaKey struct {
	provider string
	month    time.Time
}

type state struct {
	providers     map[string]model.Provider
	slots         map[string]model.Slot
	quotas        map[quotaKey]model.PublishQuota
	bookings      map[string]model.Booking
	subscriptions map[string]model.AlertSubscription
}

func newState() *state {
	return &state{
		providers:     map[string]model.Provider{},
		slots:         map[string]model.Slot{},
		quotas:        map[quotaKey]model.PublishQuota{},
		bookings:      map[string]model.Booking{},
		subscriptions: map[string]model.AlertSubscription{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.providers {
		c.providers[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.quotas {
		c.quotas[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.subscriptions {
		v.Categories = append([]string(nil), v.Categories...)
		c.subscriptions[k] = v
	}
	return c
}

// Store implements repository.Store in memory.
type Store struct {
	mu   sync.Mutex
	data *state

	faultMu     sync.Mutex
	resyncFails int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

// FailResync makes the next n SumPublishedCapacity calls fail with a
// transient error.
func (s *Store) FailResync(n int) {
	s.faultMu.Lock()
	s.resyncFails = n
	s.faultMu.Unlock()
}

func (s *Store) takeResyncFault() bool {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if s.resyncFails > 0 {
		s.resyncFails--
		return true
	}
	return false
}

// InTx implements repository.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := &txn{store: s, data: s.data.clone()}
	if err := fn(t); err != nil {
		return err
	}
	s.data = t.data
	return nil
}

type txn struct {
	store *Store
	data  *state
}

func (t *txn) CreateProvider(_ context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	for _, cur := range t.data.providers {
		if strings.EqualFold(cur.Email, p.Email) {
			return fmt.Errorf("insert provider: %w", repository.ErrDuplicate)
		}
	}
	t.data.providers[p.ID] = *p
	return nil
}

func (t *txn) GetProvider(_ context.Context, id string) (*model.Provider, error) {
	p, ok := t.data.providers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (t *txn) CreateSlot(_ context.Context, s *model.Slot) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if _, ok := t.data.providers[s.ProviderID]; !ok {
		return fmt.Errorf("insert slot: unknown provider %q", s.ProviderID)
	}
	t.data.slots[s.ID] = *s
	return nil
}

func (t *txn) GetSlot(_ context.Context, id string) (*model.Slot, error) {
	s, ok := t.data.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (t *txn) LockSlot(ctx context.Context, id string) (*model.Slot, error) {
	return t.GetSlot(ctx, id)
}

func (t *txn) ListSlots(_ context.Context, f repository.SlotFilter) ([]model.Slot, error) {
	var out []model.Slot
	for _, s := range t.data.slots {
		if f.ProviderID != "" && s.ProviderID != f.ProviderID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Category != "" && !strings.EqualFold(s.Category, f.Category) {
			continue
		}
		if f.Zip != "" && (s.Zip == nil || *s.Zip != f.Zip) {
			continue
		}
		if !f.StartFrom.IsZero() && s.StartAt.Before(f.StartFrom) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *txn) UpdateSlotStatus(_ context.Context, id string, status model.SlotStatus, publishedAt *time.Time) error {
	s, ok := t.data.slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	s.PublishedAt = publishedAt
	t.data.slots[id] = s
	return nil
}

func (t *txn) UpdateSlot(_ context.Context, s *model.Slot) error {
	cur, ok := t.data.slots[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Title, cur.Category, cur.Capacity = s.Title, s.Category, s.Capacity
	cur.StartAt, cur.EndAt = s.StartAt, s.EndAt
	cur.Zip, cur.City, cur.Location = s.Zip, s.City, s.Location
	t.data.slots[s.ID] = cur
	return nil
}

func (t *txn) DeleteSlot(_ context.Context, id string) error {
	if _, ok := t.data.slots[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.data.slots, id)
	return nil
}

func (t *txn) SumPublishedCapacity(_ context.Context, providerID string, from, to time.Time) (int, error) {
	if t.store.takeResyncFault() {
		return 0, fmt.Errorf("sum published capacity: %w", repository.ErrTransient)
	}
	total := 0
	for _, s := range t.data.slots {
		if s.ProviderID != providerID || s.Status != model.SlotPublished {
			continue
		}
		if s.StartAt.Before(from) || !s.StartAt.Before(to) {
			continue
		}
		total += s.Capacity
	}
	return total, nil
}

func (t *txn) EnsureQuota(_ context.Context, providerID string, month time.Time, limit int) error {
	k := quotaKey{providerID, month.UTC()}
	if _, ok := t.data.quotas[k]; ok {
		return nil
	}
	t.data.quotas[k] = model.PublishQuota{ProviderID: providerID, Month: month, Limit: limit}
	return nil
}

func (t *txn) LockQuota(ctx context.Context, providerID string, month time.Time) (*model.PublishQuota, error) {
	return t.GetQuota(ctx, providerID, month)
}

func (t *txn) GetQuota(_ context.Context, providerID string, month time.Time) (*model.PublishQuota, error) {
	q, ok := t.data.quotas[quotaKey{providerID, month.UTC()}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &q, nil
}

func (t *txn) UpdateQuota(_ context.Context, q *model.PublishQuota) error {
	k := quotaKey{q.ProviderID, q.Month.UTC()}
	if _, ok := t.data.quotas[k]; !ok {
		return repository.ErrNotFound
	}
	t.data.quotas[k] = *q
	return nil
}

func (t *txn) CreateBooking(_ context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if _, ok := t.data.slots[b.SlotID]; !ok {
		return fmt.Errorf("insert booking: unknown slot %q", b.SlotID)
	}
	t.data.bookings[b.ID] = *b
	return nil
}

func (t *txn) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	b, ok := t.data.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (t *txn) LockBooking(ctx context.Context, id string) (*model.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *txn) UpdateBooking(_ context.Context, b *model.Booking) error {
	cur, ok := t.data.bookings[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = b.Status
	cur.ConfirmedAt = b.ConfirmedAt
	cur.CanceledAt = b.CanceledAt
	t.data.bookings[b.ID] = cur
	return nil
}

func (t *txn) CountActiveBookings(_ context.Context, slotID string) (int, error) {
	n := 0
	for _, b := range t.data.bookings {
		if b.SlotID == slotID && b.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (t *txn) CountBookings(_ context.Context, slotID string) (int, error) {
	n := 0
	for _, b := range t.data.bookings {
		if b.SlotID == slotID {
			n++
		}
	}
	return n, nil
}

func (t *txn) ExpireHolds(_ context.Context, slotID string, cutoff, canceledAt time.Time) (int, error) {
	n := 0
	for id, b := range t.data.bookings {
		if b.SlotID != slotID || b.Status != model.BookingHold || !b.CreatedAt.Before(cutoff) {
			continue
		}
		at := canceledAt
		b.Status = model.BookingCanceled
		b.CanceledAt = &at
		t.data.bookings[id] = b
		n++
	}
	return n, nil
}

func (t *txn) ListBookingsBySlot(_ context.Context, slotID string) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range t.data.bookings {
		if b.SlotID == slotID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *txn) CreateSubscription(_ context.Context, a *model.AlertSubscription) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	for _, cur := range t.data.subscriptions {
		if cur.VerifyToken == a.VerifyToken || cur.ManageKey == a.ManageKey {
			return fmt.Errorf("insert subscription: duplicate token")
		}
	}
	c := *a
	c.Categories = append([]string(nil), a.Categories...)
	t.data.subscriptions[a.ID] = c
	return nil
}

func (t *txn) findSubscription(match func(model.AlertSubscription) bool) (*model.AlertSubscription, error) {
	for _, a := range t.data.subscriptions {
		if match(a) {
			a.Categories = append([]string(nil), a.Categories...)
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) GetSubscriptionByVerifyToken(_ context.Context, token string) (*model.AlertSubscription, error) {
	return t.findSubscription(func(a model.AlertSubscription) bool { return a.VerifyToken == token })
}

func (t *txn) GetSubscriptionByManageKey(_ context.Context, key string) (*model.AlertSubscription, error) {
	return t.findSubscription(func(a model.AlertSubscription) bool { return a.ManageKey == key })
}

func (t *txn) LockSubscription(_ context.Context, id string) (*model.AlertSubscription, error) {
	return t.findSubscription(func(a model.AlertSubscription) bool { return a.ID == id })
}

func (t *txn) UpdateSubscription(_ context.Context, a *model.AlertSubscription) error {
	cur, ok := t.data.subscriptions[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Lat, cur.Lon = a.Lat, a.Lon
	cur.Active = a.Active
	cur.EmailConfirmed = a.EmailConfirmed
	cur.DeletedAt = a.DeletedAt
	cur.EmailSentTotal = a.EmailSentTotal
	cur.SMSSentThisMonth = a.SMSSentThisMonth
	cur.SMSQuotaMonth = a.SMSQuotaMonth
	cur.SMSMonth = a.SMSMonth
	cur.NotificationLimit = a.NotificationLimit
	cur.LastNotifiedAt = a.LastNotifiedAt
	t.data.subscriptions[a.ID] = cur
	return nil
}

func (t *txn) ListAlertCandidates(_ context.Context) ([]model.AlertSubscription, error) {
	var out []model.AlertSubscription
	for _, a := range t.data.subscriptions {
		if a.IsCandidate() {
			a.Categories = append([]string(nil), a.Categories...)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// LockSubscriptionEmail is a no-op: InTx already holds the store lock.
func (t *txn) LockSubscriptionEmail(context.Context, string) error {
	return nil
}

func (t *txn) SubscriptionUsage(_ context.Context, email string) (int, int, error) {
	used, limit := 0, 0
	for _, a := range t.data.subscriptions {
		if !strings.EqualFold(a.Email, email) {
			continue
		}
		used++
		if a.NotificationLimit > limit {
			limit = a.NotificationLimit
		}
	}
	return used, limit, nil
}
