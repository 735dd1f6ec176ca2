// Package service implements the slot lifecycle, the publish quota ledger
// and booking capacity management on top of the transactional repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
	"github.com/Shivanand-hulikatti/slot-broker/internal/repository"
)

var tracer = otel.Tracer("slot-broker/service")

// QuotaConfig configures the publish quota ledger.
type QuotaConfig struct {
	BaseLimit      int
	Location       *time.Location
	ResyncAttempts int
	ResyncDelay    time.Duration
}

// QuotaConfigFrom converts the loaded configuration.
func QuotaConfigFrom(c config.Quota) (QuotaConfig, error) {
	loc, err := c.Location()
	if err != nil {
		return QuotaConfig{}, err
	}
	return QuotaConfig{
		BaseLimit:      c.BaseLimit,
		Location:       loc,
		ResyncAttempts: c.ResyncAttempts,
		ResyncDelay:    c.ResyncDelay,
	}, nil
}

// ProviderConfig configures provider sign-up.
type ProviderConfig struct {
	TokenTTL time.Duration
	// PlanLimits maps a normalized email to the monthly publish limit
	// stored on sign-up.
	PlanLimits map[string]int
}

// ProviderConfigFrom converts the loaded configuration.
func ProviderConfigFrom(auth config.Auth, quota config.Quota) ProviderConfig {
	limits := make(map[string]int, len(quota.PlanLimits))
	for email, limit := range quota.PlanLimits {
		limits[NormalizeEmail(email)] = limit
	}
	return ProviderConfig{TokenTTL: auth.ProviderTokenTTL, PlanLimits: limits}
}

// BookingConfig configures holds, fee snapshots and customer mail links.
type BookingConfig struct {
	HoldTTL    time.Duration
	DefaultFee decimal.Decimal
	BaseURL    string
}

// BookingConfigFrom converts the loaded configuration.
func BookingConfigFrom(c config.Booking, baseURL string) (BookingConfig, error) {
	fee, err := c.Fee()
	if err != nil {
		return BookingConfig{}, err
	}
	return BookingConfig{HoldTTL: c.HoldTTL, DefaultFee: fee, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// notFound converts a repository miss into a business error and wraps
// everything else.
func notFound(err error, reason, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return NotFound(reason)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// passThrough returns business errors unchanged and wraps storage errors.
func passThrough(err error, op string) error {
	var e *Error
	if err == nil || errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "service."+name)
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// ValidEmail does a basic structural check.
func ValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
