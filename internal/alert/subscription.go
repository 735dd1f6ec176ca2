package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/notify"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

// Usage reports how many subscriptions an email has used of its ceiling.
type Usage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Created is the result of a new subscription.
type Created struct {
	Subscription *model.AlertSubscription `json:"subscription"`
	ManageKey    string                   `json:"manage_key"`
	Stats        Usage                    `json:"stats"`
}

// Subscriptions manages the opt-in lifecycle of alert subscriptions.
type Subscriptions struct {
	store    repository.Store
	notifier notify.Notifier
	clock    clock.Clock
	cfg      Config
}

// NewSubscriptions constructs a Subscriptions.
func NewSubscriptions(store repository.Store, notifier notify.Notifier, clk clock.Clock, cfg Config) *Subscriptions {
	return &Subscriptions{store: store, notifier: notifier, clock: clk, cfg: cfg}
}

func validEmail(raw string) (string, error) {
	email := service.NormalizeEmail(raw)
	if email == "" {
		return "", service.BadInput("email_required")
	}
	if !service.ValidEmail(email) {
		return "", service.BadInput("invalid_email")
	}
	return email, nil
}

func validZip(zip string) bool {
	if len(zip) != 5 {
		return false
	}
	for _, r := range zip {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func cleanCategories(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range in {
		for _, c := range strings.Split(raw, ",") {
			c = strings.TrimSpace(c)
			if c == "" || seen[strings.ToLower(c)] {
				continue
			}
			seen[strings.ToLower(c)] = true
			out = append(out, c)
		}
	}
	return out
}

func (s *Subscriptions) limit(stored int) int {
	if stored > 0 {
		return stored
	}
	return s.cfg.SubscriptionsPerEmail
}

// Create validates the request and stores an inactive subscription, then
// sends the verification link. Every subscription ever created for the
// email counts towards its ceiling, soft-deleted ones included.
func (s *Subscriptions) Create(ctx context.Context, req model.CreateAlertRequest) (*Created, error) {
	email, err := validEmail(req.Email)
	if err != nil {
		return nil, err
	}
	zip := strings.TrimSpace(req.Zip)
	if !validZip(zip) {
		return nil, service.BadInput("invalid_zip")
	}
	categories := cleanCategories(req.Categories)
	if len(categories) == 0 {
		return nil, service.BadInput("category_required")
	}
	if !req.ViaEmail && !req.ViaSMS {
		return nil, service.BadInput("channel_required")
	}
	var phone *string
	if req.Phone != nil {
		if p := strings.TrimSpace(*req.Phone); p != "" {
			phone = &p
		}
	}
	if req.ViaSMS && phone == nil {
		return nil, service.BadInput("phone_required")
	}
	if req.RadiusKm < 0 {
		req.RadiusKm = 0
	}

	var out *Created
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockSubscriptionEmail(ctx, email); err != nil {
			return fmt.Errorf("lock email: %w", err)
		}
		used, stored, err := tx.SubscriptionUsage(ctx, email)
		if err != nil {
			return fmt.Errorf("subscription usage: %w", err)
		}
		limit := s.limit(stored)
		if used >= limit {
			return service.InvalidState("alert_limit_reached")
		}

		sub := &model.AlertSubscription{
			Email:             email,
			Zip:               zip,
			City:              req.City,
			RadiusKm:          req.RadiusKm,
			Categories:        categories,
			ViaEmail:          req.ViaEmail,
			ViaSMS:            req.ViaSMS,
			Phone:             phone,
			SMSQuotaMonth:     s.cfg.SMSQuotaMonth,
			NotificationLimit: limit,
			VerifyToken:       uuid.New().String(),
			ManageKey:         uuid.New().String(),
			CreatedAt:         s.clock.Now().UTC(),
		}
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		out = &Created{Subscription: sub, ManageKey: sub.ManageKey, Stats: Usage{Used: used + 1, Limit: limit}}
		return nil
	})
	if err != nil {
		return nil, err
	}

	link := s.cfg.BaseURL + "/api/alerts/verify?token=" + out.Subscription.VerifyToken
	if !s.notifier.SendEmail(ctx, email, "Confirm your slot alert", "Confirm your alert: "+link) {
		zerolog.Ctx(ctx).Warn().Str("subscription_id", out.Subscription.ID).Msg("verification email not sent")
	}
	return out, nil
}

// Verify confirms the email address and activates the subscription. Only
// the first verification activates; replaying the link after a cancel
// leaves the subscription inactive.
func (s *Subscriptions) Verify(ctx context.Context, token string) (*model.AlertSubscription, error) {
	if strings.TrimSpace(token) == "" {
		return nil, service.BadInput("invalid_token")
	}
	return s.mutate(ctx, func(tx repository.Tx) (*model.AlertSubscription, error) {
		return tx.GetSubscriptionByVerifyToken(ctx, token)
	}, func(sub *model.AlertSubscription, _ time.Time) error {
		if sub.DeletedAt != nil {
			return service.InvalidState("deleted")
		}
		if !sub.EmailConfirmed {
			sub.EmailConfirmed = true
			sub.Active = true
		}
		return nil
	})
}

// Cancel deactivates the subscription named by its manage key.
func (s *Subscriptions) Cancel(ctx context.Context, manageKey string) (*model.AlertSubscription, error) {
	return s.mutate(ctx, func(tx repository.Tx) (*model.AlertSubscription, error) {
		return tx.GetSubscriptionByManageKey(ctx, manageKey)
	}, func(sub *model.AlertSubscription, _ time.Time) error {
		sub.Active = false
		return nil
	})
}

// Delete soft-deletes the subscription. The row keeps counting towards the
// email's ceiling.
func (s *Subscriptions) Delete(ctx context.Context, manageKey string) (*model.AlertSubscription, error) {
	return s.mutate(ctx, func(tx repository.Tx) (*model.AlertSubscription, error) {
		return tx.GetSubscriptionByManageKey(ctx, manageKey)
	}, func(sub *model.AlertSubscription, now time.Time) error {
		sub.Active = false
		if sub.DeletedAt == nil {
			sub.DeletedAt = &now
		}
		return nil
	})
}

func (s *Subscriptions) mutate(
	ctx context.Context,
	find func(tx repository.Tx) (*model.AlertSubscription, error),
	apply func(sub *model.AlertSubscription, now time.Time) error,
) (*model.AlertSubscription, error) {
	var out *model.AlertSubscription
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		found, err := find(tx)
		if errors.Is(err, repository.ErrNotFound) {
			return service.NotFound("not_found")
		}
		if err != nil {
			return fmt.Errorf("find subscription: %w", err)
		}
		sub, err := tx.LockSubscription(ctx, found.ID)
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}
		if err := apply(sub, s.clock.Now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns the subscription usage of an email.
func (s *Subscriptions) Stats(ctx context.Context, rawEmail string) (Usage, error) {
	email, err := validEmail(rawEmail)
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		used, stored, err := tx.SubscriptionUsage(ctx, email)
		if err != nil {
			return fmt.Errorf("subscription usage: %w", err)
		}
		u = Usage{Used: used, Limit: s.limit(stored)}
		return nil
	})
	return u, err
}
