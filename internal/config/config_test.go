package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	qt "github.com/frankban/quicktest"
)

func TestLoadDefaults(t *testing.T) {
	c := qt.New(t)
	c.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Port, qt.Equals, "8080")
	c.Assert(cfg.Quota.BaseLimit, qt.Equals, 3)
	c.Assert(cfg.Book.HoldTTL, qt.Equals, 15*time.Minute)
	c.Assert(cfg.Alert.EmailLifetimeCap, qt.Equals, 10)
	c.Assert(cfg.Alert.SMSQuotaMonth, qt.Equals, 5)
	c.Assert(cfg.Alert.SubscriptionsPerEmail, qt.Equals, 3)

	loc, err := cfg.Quota.Location()
	c.Assert(err, qt.IsNil)
	c.Assert(loc.String(), qt.Equals, "Europe/Berlin")

	fee, err := cfg.Book.Fee()
	c.Assert(err, qt.IsNil)
	c.Assert(fee.String(), qt.Equals, "2")
}

func TestLoadRejectsBadValues(t *testing.T) {
	c := qt.New(t)
	c.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load()
	c.Assert(err, qt.ErrorMatches, `STORE_DRIVER must be postgres or memory.*`)

	c.Setenv("STORE_DRIVER", "memory")
	c.Setenv("QUOTA_TIMEZONE", "Mars/Olympus")
	_, err = Load()
	c.Assert(err, qt.ErrorMatches, `load quota timezone.*`)

	c.Setenv("QUOTA_TIMEZONE", "UTC")
	c.Setenv("DEFAULT_BOOKING_FEE", "two euros")
	_, err = Load()
	c.Assert(err, qt.ErrorMatches, `parse DEFAULT_BOOKING_FEE.*`)
}

func TestDSN(t *testing.T) {
	c := qt.New(t)
	d := Database{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	c.Assert(d.DSN(), qt.Equals, "host=db port=5432 user=u password=p dbname=n sslmode=disable")
}

func TestLoadPlanLimits(t *testing.T) {
	c := qt.New(t)
	c.Setenv("STORE_DRIVER", "memory")
	c.Setenv("PROVIDER_PLAN_LIMITS", "premium@example.com:20,flat@example.com:-1")

	cfg, err := Load()
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Quota.PlanLimits, qt.DeepEquals, map[string]int{
		"premium@example.com": 20,
		"flat@example.com":    -1,
	})
}
