package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/slot-broker/internal/metrics"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

// QuotaLedger tracks the capacity units a provider publishes per month. All
// methods run inside a caller-owned transaction that already holds the slot
// row lock.
type QuotaLedger struct {
	cfg        QuotaConfig
	retryClock clock.Clock
}

// NewQuotaLedger constructs a QuotaLedger.
func NewQuotaLedger(cfg QuotaConfig) *QuotaLedger {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ResyncAttempts < 1 {
		cfg.ResyncAttempts = 1
	}
	if cfg.ResyncDelay <= 0 {
		cfg.ResyncDelay = time.Millisecond
	}
	return &QuotaLedger{cfg: cfg, retryClock: clock.WallClock}
}

// EffectiveLimit resolves a provider's raw plan value: nil or 0 selects the
// base limit, a negative value is unlimited, a positive value is used as is.
func (l *QuotaLedger) EffectiveLimit(raw *int) (limit int, unlimited bool) {
	switch {
	case raw == nil || *raw == 0:
		return l.cfg.BaseLimit, false
	case *raw < 0:
		return model.Unlimited, true
	default:
		return *raw, false
	}
}

// MonthOf returns the quota month key of an instant.
func (l *QuotaLedger) MonthOf(t time.Time) time.Time {
	return MonthKey(t, l.cfg.Location)
}

// Reservation is the outcome of a successful Reserve.
type Reservation struct {
	Month     time.Time
	Unlimited bool
	// Quota is the row after the increment; nil when unlimited.
	Quota *model.PublishQuota
}

// Reserve books the slot's capacity against the provider's quota for the
// slot's month. The stored counter is first re-derived from the published
// slots of that month, then the slot's capacity is added on top. A result
// above the limit fails with ErrQuotaExceeded and leaves the row as it was
// read; the caller must roll the transaction back.
func (l *QuotaLedger) Reserve(ctx context.Context, tx repository.Tx, p *model.Provider, s *model.Slot) (*Reservation, error) {
	month := l.MonthOf(s.StartAt)
	limit, unlimited := l.EffectiveLimit(p.MonthlyPublishLimit)
	if unlimited {
		return &Reservation{Month: month, Unlimited: true}, nil
	}

	if err := tx.EnsureQuota(ctx, p.ID, month, limit); err != nil {
		return nil, fmt.Errorf("ensure quota: %w", err)
	}
	q, err := tx.LockQuota(ctx, p.ID, month)
	if err != nil {
		return nil, fmt.Errorf("lock quota: %w", err)
	}

	actual, err := l.resync(ctx, tx, p.ID, month)
	if err != nil {
		return nil, err
	}
	if q.Used != actual {
		zerolog.Ctx(ctx).Info().
			Str("provider_id", p.ID).
			Time("month", month).
			Int("stored", q.Used).
			Int("actual", actual).
			Msg("quota counter resynced")
	}

	newUsed := actual + s.Capacity
	if newUsed > limit {
		return nil, &Error{Kind: KindQuotaExceeded, Reason: "quota_exceeded"}
	}

	q.Used = newUsed
	q.Limit = limit
	if err := tx.UpdateQuota(ctx, q); err != nil {
		return nil, fmt.Errorf("update quota: %w", err)
	}
	return &Reservation{Month: month, Quota: q}, nil
}

// Release returns a slot's capacity to the month's quota. A missing row is
// left missing; the counter never drops below zero.
func (l *QuotaLedger) Release(ctx context.Context, tx repository.Tx, providerID string, s *model.Slot) (*model.PublishQuota, error) {
	month := l.MonthOf(s.StartAt)
	q, err := tx.LockQuota(ctx, providerID, month)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock quota: %w", err)
	}
	q.Used -= s.Capacity
	if q.Used < 0 {
		q.Used = 0
	}
	if err := tx.UpdateQuota(ctx, q); err != nil {
		return nil, fmt.Errorf("update quota: %w", err)
	}
	return q, nil
}

// Snapshot returns the quota of a month without taking a lock. A provider
// that has never published in the month reads as an empty row carrying its
// current effective limit.
func (l *QuotaLedger) Snapshot(ctx context.Context, tx repository.Tx, p *model.Provider, month time.Time) (*model.PublishQuota, error) {
	limit, _ := l.EffectiveLimit(p.MonthlyPublishLimit)
	q, err := tx.GetQuota(ctx, p.ID, month)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.PublishQuota{ProviderID: p.ID, Month: month, Limit: limit}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	q.Limit = limit
	return q, nil
}

// resync sums the published capacity of the month. Only this read is
// retried, and only for transient storage errors.
func (l *QuotaLedger) resync(ctx context.Context, tx repository.Tx, providerID string, month time.Time) (int, error) {
	from, to := MonthRange(month, l.cfg.Location)

	var (
		total    int
		attempts int
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			n, err := tx.SumPublishedCapacity(ctx, providerID, from, to)
			if err != nil {
				return err
			}
			total = n
			return nil
		},
		IsFatalError: func(err error) bool {
			return !repository.IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("quota resync read failed")
		},
		Attempts:    l.cfg.ResyncAttempts,
		Delay:       l.cfg.ResyncDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       l.retryClock,
		Stop:        ctx.Done(),
	})
	metrics.ResyncAttempts.Observe(float64(attempts))
	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
			err = retry.LastError(err)
		}
		return 0, fmt.Errorf("resync quota: %w", err)
	}
	return total, nil
}
