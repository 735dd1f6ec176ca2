package service

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"

	"github.com/Shivanand-hulikatti/slot-broker/internal/config"
)

const (
	typBooking  = "booking"
	typProvider = "access"
)

// TokenCodec turns a booking id into an opaque, time-boxed credential and
// back.
type TokenCodec interface {
	IssueBooking(bookingID string) (string, error)
	ParseBooking(token string) (string, error)
}

// Claims is the payload of every token the broker signs.
type Claims struct {
	Typ string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTTokens signs booking and provider tokens with HS256.
type JWTTokens struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    clock.Clock
}

// NewJWTTokens constructs a JWTTokens from the auth configuration.
func NewJWTTokens(c config.Auth, clk clock.Clock) *JWTTokens {
	return &JWTTokens{
		secret:   []byte(c.Secret),
		issuer:   c.Issuer,
		audience: c.ProviderAudience,
		ttl:      c.BookingTokenTTL,
		clock:    clk,
	}
}

func (j *JWTTokens) sign(typ, subject string, audience []string, ttl time.Duration) (string, error) {
	now := j.clock.Now()
	claims := Claims{
		Typ: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    j.issuer,
			Audience:  audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWTTokens) parse(token, typ string, opts ...jwt.ParserOption) (string, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.clock.Now),
		jwt.WithExpirationRequired(),
	)
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", &Error{Kind: KindExpired, Reason: "token_expired"}
		}
		return "", BadInput("invalid_token")
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Typ != typ || c.Subject == "" {
		return "", BadInput("invalid_token")
	}
	return c.Subject, nil
}

// IssueBooking implements TokenCodec.
func (j *JWTTokens) IssueBooking(bookingID string) (string, error) {
	return j.sign(typBooking, bookingID, nil, j.ttl)
}

// ParseBooking implements TokenCodec.
func (j *JWTTokens) ParseBooking(token string) (string, error) {
	return j.parse(token, typBooking)
}

// IssueProvider signs an access token for a provider id.
func (j *JWTTokens) IssueProvider(providerID string, ttl time.Duration) (string, error) {
	return j.sign(typProvider, providerID, []string{j.audience}, ttl)
}

// ParseProvider validates an access token and returns the provider id.
func (j *JWTTokens) ParseProvider(token string) (string, error) {
	return j.parse(token, typProvider, jwt.WithAudience(j.audience))
}
