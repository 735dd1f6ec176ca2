// Package alert matches published slots against saved searches and sends
// the resulting notifications within each subscription's quotas.
package alert

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
	"github.com/Shivanand-hulikatti/slot-broker/internal/geo"
	"github.com/Shivanand-hulikatti/slot-broker/internal/metrics"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/notify"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

var tracer = otel.Tracer("slot-broker/alert")

// Config holds the notification quotas.
type Config struct {
	EmailLifetimeCap      int
	SMSQuotaMonth         int
	SubscriptionsPerEmail int
	// Location anchors the monthly SMS reset.
	Location *time.Location
	BaseURL  string
}

// ConfigFrom converts the loaded configuration.
func ConfigFrom(c config.Config) (Config, error) {
	loc, err := c.Quota.Location()
	if err != nil {
		return Config{}, err
	}
	return Config{
		EmailLifetimeCap:      c.Alert.EmailLifetimeCap,
		SMSQuotaMonth:         c.Alert.SMSQuotaMonth,
		SubscriptionsPerEmail: c.Alert.SubscriptionsPerEmail,
		Location:              loc,
		BaseURL:               c.BaseURL,
	}, nil
}

// Report summarizes one matching pass.
type Report struct {
	Candidates int
	Skipped    int
	Matched    int
	Emails     int
	SMS        int
}

// Engine runs the matching pass for a published slot.
type Engine struct {
	store    repository.Store
	resolver geo.Resolver
	notifier notify.Notifier
	clock    clock.Clock
	cfg      Config
}

// NewEngine constructs an Engine.
func NewEngine(store repository.Store, resolver geo.Resolver, notifier notify.Notifier, clk clock.Clock, cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{store: store, resolver: resolver, notifier: notifier, clock: clk, cfg: cfg}
}

// SlotPublished runs the pass synchronously and logs its outcome.
func (e *Engine) SlotPublished(ctx context.Context, slot model.Slot, provider model.Provider) {
	rep, err := e.Run(ctx, slot, provider)
	log := zerolog.Ctx(ctx)
	if err != nil {
		log.Error().Err(err).Str("slot_id", slot.ID).Msg("alert matching failed")
		return
	}
	log.Info().
		Str("slot_id", slot.ID).
		Int("candidates", rep.Candidates).
		Int("matched", rep.Matched).
		Int("emails", rep.Emails).
		Int("sms", rep.SMS).
		Msg("alert matching done")
}

func (e *Engine) target(ctx context.Context, slot model.Slot, provider model.Provider) target {
	zip, city := deref(slot.Zip), deref(slot.City)
	if geo.NormalizeZip(zip) == "" {
		zip, city = deref(provider.Zip), deref(provider.City)
	}
	t := target{zip: geo.NormalizeZip(zip), category: slot.Category}
	t.point, t.resolved = e.resolver.Resolve(ctx, zip, city)
	return t
}

// Run matches slot against every candidate subscription and dispatches the
// notifications. Failures for one subscription never stop the pass; only a
// failed candidate read is returned.
func (e *Engine) Run(ctx context.Context, slot model.Slot, provider model.Provider) (Report, error) {
	ctx, span := tracer.Start(ctx, "alert.Engine.Run")
	defer span.End()
	span.SetAttributes(attribute.String("slot.id", slot.ID))

	log := zerolog.Ctx(ctx)
	t := e.target(ctx, slot, provider)
	if !t.resolved {
		log.Warn().Str("slot_id", slot.ID).Str("zip", t.zip).Msg("slot location unresolved")
	}

	var candidates []model.AlertSubscription
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		candidates, err = tx.ListAlertCandidates(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Report{}, fmt.Errorf("list alert candidates: %w", err)
	}

	rep := Report{Candidates: len(candidates)}
	for i := range candidates {
		sub := &candidates[i]
		if !sub.HasCoordinates() && !e.backfill(ctx, sub) {
			rep.Skipped++
			continue
		}
		if !matchesGeo(sub, t) || !matchesCategory(sub.Categories, t.category) {
			continue
		}
		rep.Matched++
		email, sms := e.dispatch(ctx, sub, slot)
		if email {
			rep.Emails++
		}
		if sms {
			rep.SMS++
		}
	}
	span.SetAttributes(attribute.Int("alert.matched", rep.Matched))
	return rep, nil
}

// backfill resolves and stores the subscription's coordinates.
func (e *Engine) backfill(ctx context.Context, sub *model.AlertSubscription) bool {
	p, ok := e.resolver.Resolve(ctx, sub.Zip, deref(sub.City))
	if !ok {
		return false
	}
	sub.Lat, sub.Lon = &p.Lat, &p.Lon
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.LockSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		cur.Lat, cur.Lon = &p.Lat, &p.Lon
		return tx.UpdateSubscription(ctx, cur)
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("subscription_id", sub.ID).Msg("coordinate backfill not stored")
	}
	return true
}

// plan is what a reservation allows for one subscription.
type plan struct {
	email bool
	sms   bool
	to    string
	phone string
}

// reserve locks the subscription briefly, applies the monthly SMS reset,
// books the channels that are within quota and records last_notified_at.
func (e *Engine) reserve(ctx context.Context, id string) (plan, error) {
	var p plan
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		p = plan{}
		if !sub.IsCandidate() {
			return nil
		}
		now := e.clock.Now().UTC()
		p.to = sub.Email

		if sub.ViaEmail && sub.EmailSentTotal < e.cfg.EmailLifetimeCap {
			sub.EmailSentTotal++
			p.email = true
		}
		if sub.ViaSMS && sub.Phone != nil && *sub.Phone != "" {
			month := service.MonthKey(now, e.cfg.Location)
			if sub.SMSMonth == nil || !sub.SMSMonth.Equal(month) {
				sub.SMSSentThisMonth = 0
				sub.SMSMonth = &month
			}
			if sub.SMSSentThisMonth < sub.SMSQuotaMonth {
				sub.SMSSentThisMonth++
				p.sms = true
				p.phone = *sub.Phone
			}
		}
		sub.LastNotifiedAt = &now
		return tx.UpdateSubscription(ctx, sub)
	})
	return p, err
}

// refundEmail gives back an email reservation the notifier did not accept.
func (e *Engine) refundEmail(ctx context.Context, id string) error {
	return e.store.InTx(ctx, func(tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		if sub.EmailSentTotal > 0 {
			sub.EmailSentTotal--
		}
		return tx.UpdateSubscription(ctx, sub)
	})
}

func (e *Engine) dispatch(ctx context.Context, sub *model.AlertSubscription, slot model.Slot) (emailSent, smsSent bool) {
	log := zerolog.Ctx(ctx).With().Str("subscription_id", sub.ID).Str("slot_id", slot.ID).Logger()

	p, err := e.reserve(ctx, sub.ID)
	if err != nil {
		log.Warn().Err(err).Msg("alert reservation failed")
		return false, false
	}

	if p.email {
		subject, body := emailText(slot, e.cfg.BaseURL)
		if e.notifier.SendEmail(ctx, p.to, subject, body) {
			emailSent = true
			metrics.AlertNotifications.WithLabelValues(notify.ChannelEmail, "ok").Inc()
		} else {
			metrics.AlertNotifications.WithLabelValues(notify.ChannelEmail, "failed").Inc()
			if err := e.refundEmail(ctx, sub.ID); err != nil {
				log.Error().Err(err).Msg("email refund failed")
			}
		}
	}
	if p.sms {
		e.notifier.SendSMS(ctx, p.phone, smsText(slot))
		smsSent = true
		metrics.AlertNotifications.WithLabelValues(notify.ChannelSMS, "issued").Inc()
	}
	return emailSent, smsSent
}

func emailText(slot model.Slot, baseURL string) (string, string) {
	subject := "New slot available: " + slot.Title
	body := fmt.Sprintf("%s (%s) on %s.\nBook it at %s/public/slots?category=%s",
		slot.Title, slot.Category, slot.StartAt.Format(time.RFC1123), baseURL, url.QueryEscape(slot.Category))
	return subject, body
}

func smsText(slot model.Slot) string {
	return fmt.Sprintf("New slot: %s on %s", slot.Title, slot.StartAt.Format("02.01. 15:04"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
