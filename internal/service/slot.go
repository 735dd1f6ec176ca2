package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/slot-broker/internal/metrics"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

const maxSlotCapacity = 100_000

// PublishHook observes committed publish transitions.
type PublishHook interface {
	SlotPublished(ctx context.Context, slot model.Slot, provider model.Provider)
}

// PublishResult describes the quota state after a publish or unpublish.
type PublishResult struct {
	Slot      *model.Slot         `json:"slot"`
	Month     string              `json:"month"`
	Unlimited bool                `json:"unlimited"`
	Quota     *model.PublishQuota `json:"quota,omitempty"`
}

// SlotManager owns slot state transitions.
type SlotManager struct {
	store  repository.Store
	ledger *QuotaLedger
	clock  clock.Clock
	hook   PublishHook
}

// NewSlotManager constructs a SlotManager. hook may be nil.
func NewSlotManager(store repository.Store, ledger *QuotaLedger, clk clock.Clock, hook PublishHook) *SlotManager {
	return &SlotManager{store: store, ledger: ledger, clock: clk, hook: hook}
}

func (m *SlotManager) now() time.Time {
	return m.clock.Now().UTC()
}

// Create validates the request and stores a DRAFT slot.
func (m *SlotManager) Create(ctx context.Context, providerID string, req model.CreateSlotRequest) (*model.Slot, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.TrimSpace(req.Category)
	if req.Title == "" || req.Category == "" || req.StartAt.IsZero() || req.EndAt.IsZero() {
		return nil, BadInput("missing_fields")
	}
	if !req.EndAt.After(req.StartAt) {
		return nil, BadInput("end_before_start")
	}
	if req.Capacity == 0 {
		req.Capacity = 1
	}
	if req.Capacity < 1 || req.Capacity > maxSlotCapacity {
		return nil, BadInput("bad_capacity")
	}

	slot := &model.Slot{
		ProviderID: providerID,
		Title:      req.Title,
		Category:   req.Category,
		Status:     model.SlotDraft,
		Capacity:   req.Capacity,
		StartAt:    req.StartAt.UTC(),
		EndAt:      req.EndAt.UTC(),
		Zip:        req.Zip,
		City:       req.City,
		Location:   req.Location,
		CreatedAt:  m.now(),
	}
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetProvider(ctx, providerID); err != nil {
			return notFound(err, "provider_not_found", "get provider")
		}
		return tx.CreateSlot(ctx, slot)
	})
	if err != nil {
		return nil, passThrough(err, "create slot")
	}
	return slot, nil
}

// Update edits a DRAFT slot. The merged slot is validated like a new one:
// end after start and capacity within bounds. Published slots must be
// unpublished first so the quota stays consistent.
func (m *SlotManager) Update(ctx context.Context, providerID, slotID string, req model.UpdateSlotRequest) (*model.Slot, error) {
	var out *model.Slot
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		slot, err := m.lockOwned(ctx, tx, providerID, slotID)
		if err != nil {
			return err
		}
		if slot.Status != model.SlotDraft {
			return InvalidState("not_draft")
		}

		if req.Title != nil {
			slot.Title = strings.TrimSpace(*req.Title)
		}
		if req.Category != nil {
			slot.Category = strings.TrimSpace(*req.Category)
		}
		if req.StartAt != nil {
			slot.StartAt = req.StartAt.UTC()
		}
		if req.EndAt != nil {
			slot.EndAt = req.EndAt.UTC()
		}
		if req.Capacity != nil {
			slot.Capacity = *req.Capacity
		}
		if req.Zip != nil {
			slot.Zip = req.Zip
		}
		if req.City != nil {
			slot.City = req.City
		}
		if req.Location != nil {
			slot.Location = req.Location
		}

		if slot.Title == "" || slot.Category == "" {
			return BadInput("missing_fields")
		}
		if !slot.EndAt.After(slot.StartAt) {
			return BadInput("end_before_start")
		}
		if slot.Capacity < 1 || slot.Capacity > maxSlotCapacity {
			return BadInput("bad_capacity")
		}
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return fmt.Errorf("update slot: %w", err)
		}
		out = slot
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "update slot")
	}
	return out, nil
}

// List returns the provider's slots, optionally narrowed to one status.
func (m *SlotManager) List(ctx context.Context, providerID string, status model.SlotStatus) ([]model.Slot, error) {
	var slots []model.Slot
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		slots, err = tx.ListSlots(ctx, repository.SlotFilter{ProviderID: providerID, Status: status})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// ListPublic returns published slots that have not started yet.
func (m *SlotManager) ListPublic(ctx context.Context, category, zip string, limit int) ([]model.Slot, error) {
	f := repository.SlotFilter{
		Status:    model.SlotPublished,
		Category:  strings.TrimSpace(category),
		Zip:       strings.TrimSpace(zip),
		StartFrom: m.now(),
		Limit:     limit,
	}
	var slots []model.Slot
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		slots, err = tx.ListSlots(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list public slots: %w", err)
	}
	return slots, nil
}

// Delete removes a slot that was never booked and has not started. A
// published slot gives its capacity back to the month's quota.
func (m *SlotManager) Delete(ctx context.Context, providerID, slotID string) error {
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		slot, err := m.lockOwned(ctx, tx, providerID, slotID)
		if err != nil {
			return err
		}
		if !slot.StartAt.After(m.now()) {
			return InvalidState("in_past")
		}
		n, err := tx.CountBookings(ctx, slot.ID)
		if err != nil {
			return fmt.Errorf("count bookings: %w", err)
		}
		if n > 0 {
			return InvalidState("has_bookings")
		}
		if slot.Status == model.SlotPublished {
			if _, err := m.ledger.Release(ctx, tx, providerID, slot); err != nil {
				return err
			}
		}
		return tx.DeleteSlot(ctx, slot.ID)
	})
	return passThrough(err, "delete slot")
}

func (m *SlotManager) lockOwned(ctx context.Context, tx repository.Tx, providerID, slotID string) (*model.Slot, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return nil, notFound(err, "not_found", "lock slot")
	}
	if slot.ProviderID != providerID {
		return nil, NotFound("not_found")
	}
	return slot, nil
}

// Publish moves a DRAFT slot to PUBLISHED and books its capacity against
// the provider's monthly quota in the same transaction. After the commit
// the publish hook runs once with the published slot.
func (m *SlotManager) Publish(ctx context.Context, providerID, slotID string) (_ *PublishResult, err error) {
	ctx, span := startSpan(ctx, "SlotManager.Publish")
	defer func() { endSpan(span, err) }()
	defer func() { metrics.PublishTotal.WithLabelValues(metrics.Result(err, Reason)).Inc() }()

	var (
		res      *PublishResult
		provider *model.Provider
	)
	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		slot, err := m.lockOwned(ctx, tx, providerID, slotID)
		if err != nil {
			return err
		}
		if slot.Status != model.SlotDraft {
			return InvalidState("not_draft")
		}
		now := m.now()
		if !slot.StartAt.After(now) {
			return BadInput("start_in_past")
		}
		if slot.Capacity < 1 {
			return BadInput("bad_capacity")
		}

		provider, err = tx.GetProvider(ctx, providerID)
		if err != nil {
			return notFound(err, "provider_not_found", "get provider")
		}

		reservation, err := m.ledger.Reserve(ctx, tx, provider, slot)
		if err != nil {
			return err
		}

		if err := tx.UpdateSlotStatus(ctx, slot.ID, model.SlotPublished, &now); err != nil {
			return fmt.Errorf("update slot status: %w", err)
		}
		slot.Status = model.SlotPublished
		slot.PublishedAt = &now

		res = &PublishResult{
			Slot:      slot,
			Month:     reservation.Month.Format("2006-01"),
			Unlimited: reservation.Unlimited,
			Quota:     reservation.Quota,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			zerolog.Ctx(ctx).Info().Str("provider_id", providerID).Str("slot_id", slotID).Msg("publish rejected by quota")
		}
		return nil, passThrough(err, "publish slot")
	}

	zerolog.Ctx(ctx).Info().
		Str("provider_id", providerID).
		Str("slot_id", slotID).
		Bool("unlimited", res.Unlimited).
		Msg("slot published")

	if m.hook != nil {
		m.hook.SlotPublished(ctx, *res.Slot, *provider)
	}
	return res, nil
}

// Unpublish moves a PUBLISHED slot back to DRAFT and returns its capacity to
// the month's quota.
func (m *SlotManager) Unpublish(ctx context.Context, providerID, slotID string) (_ *PublishResult, err error) {
	ctx, span := startSpan(ctx, "SlotManager.Unpublish")
	defer func() { endSpan(span, err) }()

	var res *PublishResult
	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		slot, err := m.lockOwned(ctx, tx, providerID, slotID)
		if err != nil {
			return err
		}
		if slot.Status != model.SlotPublished {
			return InvalidState("not_published")
		}

		q, err := m.ledger.Release(ctx, tx, providerID, slot)
		if err != nil {
			return err
		}
		if err := tx.UpdateSlotStatus(ctx, slot.ID, model.SlotDraft, nil); err != nil {
			return fmt.Errorf("update slot status: %w", err)
		}
		slot.Status = model.SlotDraft
		slot.PublishedAt = nil

		res = &PublishResult{
			Slot:  slot,
			Month: m.ledger.MonthOf(slot.StartAt).Format("2006-01"),
			Quota: q,
		}
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "unpublish slot")
	}
	return res, nil
}

// Quota returns the provider's quota for a month key.
func (m *SlotManager) Quota(ctx context.Context, providerID string, month time.Time) (*model.PublishQuota, error) {
	var q *model.PublishQuota
	err := m.store.InTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetProvider(ctx, providerID)
		if err != nil {
			return notFound(err, "provider_not_found", "get provider")
		}
		q, err = m.ledger.Snapshot(ctx, tx, p, month)
		return err
	})
	if err != nil {
		return nil, passThrough(err, "get quota")
	}
	return q, nil
}

// CurrentMonth returns the month key of the current instant.
func (m *SlotManager) CurrentMonth() time.Time {
	return m.ledger.MonthOf(m.now())
}
