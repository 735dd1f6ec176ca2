package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/Shivanand-hulikatti/slot-broker/internal/model"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

// ProviderTokens issues and checks provider access tokens.
type ProviderTokens interface {
	IssueProvider(providerID string, ttl time.Duration) (string, error)
	ParseProvider(token string) (string, error)
}

// Registration is a new provider and its access token.
type Registration struct {
	Provider    *model.Provider `json:"provider"`
	AccessToken string          `json:"access_token"`
}

// Providers signs up providers.
type Providers struct {
	store  repository.Store
	tokens ProviderTokens
	clock  clock.Clock
	cfg    ProviderConfig
}

// NewProviders constructs a Providers.
func NewProviders(store repository.Store, tokens ProviderTokens, clk clock.Clock, cfg ProviderConfig) *Providers {
	return &Providers{store: store, tokens: tokens, clock: clk, cfg: cfg}
}

// Register stores a provider and signs its access token. The publish limit
// comes from the configured plan table; unlisted providers get the base
// limit.
func (p *Providers) Register(ctx context.Context, req model.RegisterProviderRequest) (*Registration, error) {
	email := NormalizeEmail(req.Email)
	company := strings.TrimSpace(req.CompanyName)
	if email == "" || company == "" {
		return nil, BadInput("missing_fields")
	}
	if !ValidEmail(email) {
		return nil, BadInput("invalid_email")
	}
	if req.BookingFee != nil && req.BookingFee.IsNegative() {
		return nil, BadInput("bad_fee")
	}

	provider := &model.Provider{
		Email:       email,
		CompanyName: company,
		Street:      req.Street,
		Zip:         req.Zip,
		City:        req.City,
		BookingFee:  req.BookingFee,
		CreatedAt:   p.clock.Now().UTC(),
	}
	if limit, ok := p.cfg.PlanLimits[email]; ok {
		provider.MonthlyPublishLimit = &limit
	}
	err := p.store.InTx(ctx, func(tx repository.Tx) error {
		err := tx.CreateProvider(ctx, provider)
		if errors.Is(err, repository.ErrDuplicate) {
			return InvalidState("email_taken")
		}
		if err != nil {
			return fmt.Errorf("insert provider: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, err := p.tokens.IssueProvider(provider.ID, p.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &Registration{Provider: provider, AccessToken: token}, nil
}

// Authenticate resolves an access token to a provider id.
func (p *Providers) Authenticate(token string) (string, error) {
	return p.tokens.ParseProvider(token)
}
