package service_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/service"
)

func TestRegisterProvider(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	providers := service.NewProviders(f.store, f.tokens, f.clock, service.ProviderConfig{TokenTTL: time.Hour})

	reg, err := providers.Register(f.ctx, model.RegisterProviderRequest{
		Email: " Praxis@Example.com ", CompanyName: "Praxis Nord",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(reg.Provider.Email, qt.Equals, "praxis@example.com")
	c.Assert(reg.Provider.MonthlyPublishLimit, qt.IsNil)

	id, err := providers.Authenticate(reg.AccessToken)
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, reg.Provider.ID)

	// A booking token is not an access token.
	booking, err := f.tokens.IssueBooking("b1")
	c.Assert(err, qt.IsNil)
	_, err = providers.Authenticate(booking)
	c.Assert(err, qt.ErrorIs, service.ErrBadInput)

	f.clock.Advance(2 * time.Hour)
	_, err = providers.Authenticate(reg.AccessToken)
	c.Assert(err, qt.ErrorIs, service.ErrExpired)

	_, err = providers.Register(f.ctx, model.RegisterProviderRequest{Email: "praxis@example.com", CompanyName: "Again"})
	c.Assert(err, qt.ErrorIs, service.ErrInvalidState)
	c.Assert(service.Reason(err), qt.Equals, "email_taken")
}

func TestRegisterProviderPlanLimits(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	cfg := service.ProviderConfigFrom(
		config.Auth{ProviderTokenTTL: time.Hour},
		config.Quota{PlanLimits: map[string]int{"Premium@Example.com": 20, "flat@example.com": -1}},
	)
	c.Assert(cfg.TokenTTL, qt.Equals, time.Hour)
	providers := service.NewProviders(f.store, f.tokens, f.clock, cfg)

	premium, err := providers.Register(f.ctx, model.RegisterProviderRequest{Email: "premium@example.com", CompanyName: "Premium"})
	c.Assert(err, qt.IsNil)
	c.Assert(*premium.Provider.MonthlyPublishLimit, qt.Equals, 20)

	flat, err := providers.Register(f.ctx, model.RegisterProviderRequest{Email: "FLAT@example.com", CompanyName: "Flat"})
	c.Assert(err, qt.IsNil)
	c.Assert(*flat.Provider.MonthlyPublishLimit, qt.Equals, -1)

	// Unlisted providers publish against the base limit.
	basic, err := providers.Register(f.ctx, model.RegisterProviderRequest{Email: "basic@example.com", CompanyName: "Basic"})
	c.Assert(err, qt.IsNil)
	c.Assert(basic.Provider.MonthlyPublishLimit, qt.IsNil)
	q, err := f.slots.Quota(f.ctx, basic.Provider.ID, f.slots.CurrentMonth())
	c.Assert(err, qt.IsNil)
	c.Assert(q.Limit, qt.Equals, 3)
	c.Assert(q.IsUnlimited(), qt.IsFalse)
}

func TestRegisterProviderValidation(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	providers := service.NewProviders(f.store, f.tokens, f.clock, service.ProviderConfig{TokenTTL: time.Hour})
	negative := decimal.RequireFromString("-1")

	for _, test := range []struct {
		req    model.RegisterProviderRequest
		reason string
	}{
		{model.RegisterProviderRequest{CompanyName: "x"}, "missing_fields"},
		{model.RegisterProviderRequest{Email: "a@example.com"}, "missing_fields"},
		{model.RegisterProviderRequest{Email: "nope", CompanyName: "x"}, "invalid_email"},
		{model.RegisterProviderRequest{Email: "a@example.com", CompanyName: "x", BookingFee: &negative}, "bad_fee"},
	} {
		_, err := providers.Register(f.ctx, test.req)
		c.Check(service.Reason(err), qt.Equals, test.reason)
	}
}
