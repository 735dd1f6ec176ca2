// Package config loads the service configuration from environment variables.
// The resulting value is passed explicitly into every component at
// construction time; nothing reads the environment after Load returns.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is the complete service configuration.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	DB     Database
	Auth   Auth
	Quota  Quota
	Book   Booking
	Alert  Alert
	Geo    Geo
	Notify Notify
	Public Public

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Database holds PostgreSQL connection settings.
type Database struct {
	Host            string `envconfig:"DB_HOST" default:"localhost"`
	Port            string `envconfig:"DB_PORT" default:"5432"`
	User            string `envconfig:"DB_USER" default:"postgres"`
	Password        string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name            string `envconfig:"DB_NAME" default:"slotbroker"`
	SSLMode         string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns        int32  `envconfig:"DB_MAX_CONNS" default:"20"`
	ConnectAttempts int    `envconfig:"DB_CONNECT_ATTEMPTS" default:"5"`
}

// DSN builds a libpq-compatible connection string.
func (c Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Auth holds token signing settings.
type Auth struct {
	Secret           string        `envconfig:"JWT_SECRET" default:"dev"`
	Issuer           string        `envconfig:"JWT_ISSUER" default:"slot-broker"`
	BookingTokenTTL  time.Duration `envconfig:"BOOKING_TOKEN_TTL" default:"6h"`
	ProviderTokenTTL time.Duration `envconfig:"PROVIDER_TOKEN_TTL" default:"720h"`
	ProviderAudience string        `envconfig:"JWT_AUDIENCE" default:"slot-broker-client"`
}

// Quota configures the publish quota ledger.
type Quota struct {
	BaseLimit      int           `envconfig:"BASE_PUBLISH_LIMIT" default:"3"`
	Timezone       string        `envconfig:"QUOTA_TIMEZONE" default:"Europe/Berlin"`
	ResyncAttempts int           `envconfig:"RESYNC_ATTEMPTS" default:"3"`
	ResyncDelay    time.Duration `envconfig:"RESYNC_DELAY" default:"50ms"`

	// PlanLimits assigns monthly publish limits by provider email, in the
	// form "a@example.com:20,b@example.com:-1". Providers not listed get
	// BaseLimit.
	PlanLimits map[string]int `envconfig:"PROVIDER_PLAN_LIMITS"`
}

// Location resolves the quota timezone.
func (q Quota) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load quota timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

// Booking configures holds and fees.
type Booking struct {
	HoldTTL    time.Duration `envconfig:"HOLD_TTL" default:"15m"`
	DefaultFee string        `envconfig:"DEFAULT_BOOKING_FEE" default:"2.00"`
}

// Fee parses DefaultFee.
func (b Booking) Fee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(b.DefaultFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse DEFAULT_BOOKING_FEE %q: %w", b.DefaultFee, err)
	}
	return fee, nil
}

// Alert configures matching and notification quotas.
type Alert struct {
	EmailLifetimeCap      int  `envconfig:"ALERT_EMAIL_LIFETIME_CAP" default:"10"`
	SMSQuotaMonth         int  `envconfig:"ALERT_SMS_QUOTA_MONTH" default:"5"`
	SubscriptionsPerEmail int  `envconfig:"ALERT_SUBSCRIPTIONS_PER_EMAIL" default:"3"`
	Async                 bool `envconfig:"ALERT_ASYNC" default:"true"`
	Workers               int  `envconfig:"ALERT_WORKERS" default:"4"`
	QueueSize             int  `envconfig:"ALERT_QUEUE" default:"256"`
}

// Geo configures the postal code resolver and its cache.
type Geo struct {
	TablePath string        `envconfig:"GEO_TABLE_PATH"`
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	RedisDB   int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL  time.Duration `envconfig:"GEO_CACHE_TTL" default:"720h"`
}

// Notify configures the notification transport.
type Notify struct {
	AMQPURL  string `envconfig:"AMQP_URL"`
	Exchange string `envconfig:"AMQP_EXCHANGE" default:"notify.exchange"`
	MailFrom string `envconfig:"MAIL_FROM" default:"no-reply@example.com"`
}

// Public configures throttling of the anonymous endpoints.
type Public struct {
	RPS   float64 `envconfig:"PUBLIC_RPS" default:"2"`
	Burst int     `envconfig:"PUBLIC_BURST" default:"10"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		return Config{}, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	if _, err := c.Quota.Location(); err != nil {
		return Config{}, err
	}
	if _, err := c.Book.Fee(); err != nil {
		return Config{}, err
	}
	return c, nil
}
