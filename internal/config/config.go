// Package config provides runtime configuration values for the service.
//
// Values come from the environment, optionally preceded by a config file
// named by POS_CONFIG. Every key has a default.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/fairyhunter13/pos-stock-service/internal/alerts"
	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/auth"
	"github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/store"
)

// Config holds configuration knobs for the HTTP server, the store and the
// alert monitor.
type Config struct {
	HTTPAddr        string        `validate:"required"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	LogLevel        string        `validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	TraceStdout     bool

	StoreDriver        string        `validate:"oneof=memory badger postgres"`
	BadgerPath         string        `validate:"required_if=StoreDriver badger"`
	PostgresDSN        string        `validate:"required_if=StoreDriver postgres"`
	PostgresMaxConns   int           `validate:"gte=0"`
	StoreTimeout       time.Duration `validate:"gt=0"`
	StoreRetryAttempts int           `validate:"gte=1"`
	StoreRetryDelay    time.Duration `validate:"gte=0"`
	StockCAS           bool

	DefaultOrgID  string `validate:"required"`
	DefaultUserID string
	DefaultRole   string `validate:"oneof=admin cashier"`

	PollInterval        time.Duration `validate:"gt=0"`
	SnoozePurgeInterval time.Duration `validate:"gt=0"`
	SnoozeMinutes       int           `validate:"gt=0"`
	AlertCritical       int64         `validate:"gte=0"`
	AlertLow            int64         `validate:"gtfield=AlertCritical"`
	AlertWarning        int64         `validate:"gtfield=AlertLow"`
	AlertDrift          int64         `validate:"gte=0"`

	FeedHistory       int `validate:"gt=0"`
	FeedHighWatermark int `validate:"gte=0"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                ":8080",
	"SHUTDOWN_TIMEOUT":         15,
	"LOG_LEVEL":                "info",
	"TRACE_STDOUT":             false,
	"STORE_DRIVER":             store.DriverMemory,
	"BADGER_PATH":              "data/badger",
	"POSTGRES_DSN":             "",
	"POSTGRES_MAX_CONNS":       10,
	"STORE_TIMEOUT_MS":         10000,
	"STORE_RETRY_ATTEMPTS":     3,
	"STORE_RETRY_DELAY_MS":     2000,
	"STOCK_CAS":                false,
	"DEFAULT_ORG_ID":           "default",
	"DEFAULT_USER_ID":          "system",
	"DEFAULT_ROLE":             string(auth.RoleCashier),
	"POLL_INTERVAL_MS":         30000,
	"SNOOZE_PURGE_INTERVAL_MS": 60000,
	"SNOOZE_MINUTES":           30,
	"ALERT_CRITICAL":           5,
	"ALERT_LOW":                10,
	"ALERT_WARNING":            15,
	"ALERT_DRIFT":              1,
	"FEED_HISTORY":             256,
	"FEED_HIGH_WATERMARK":      5000,
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()
	if path := v.GetString("POS_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			obs.Logger.Warn("config_file_unreadable", "path", path, "error", err)
		}
	}
	return v
}

func ms(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}

// Load collects configuration from environment with defaults.
func Load() Config {
	v := newViper()
	return Config{
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		ShutdownTimeout: time.Duration(v.GetInt64("SHUTDOWN_TIMEOUT")) * time.Second,
		LogLevel:        v.GetString("LOG_LEVEL"),
		TraceStdout:     v.GetBool("TRACE_STDOUT"),

		StoreDriver:        strings.ToLower(v.GetString("STORE_DRIVER")),
		BadgerPath:         v.GetString("BADGER_PATH"),
		PostgresDSN:        v.GetString("POSTGRES_DSN"),
		PostgresMaxConns:   v.GetInt("POSTGRES_MAX_CONNS"),
		StoreTimeout:       ms(v, "STORE_TIMEOUT_MS"),
		StoreRetryAttempts: v.GetInt("STORE_RETRY_ATTEMPTS"),
		StoreRetryDelay:    ms(v, "STORE_RETRY_DELAY_MS"),
		StockCAS:           v.GetBool("STOCK_CAS"),

		DefaultOrgID:  v.GetString("DEFAULT_ORG_ID"),
		DefaultUserID: v.GetString("DEFAULT_USER_ID"),
		DefaultRole:   v.GetString("DEFAULT_ROLE"),

		PollInterval:        ms(v, "POLL_INTERVAL_MS"),
		SnoozePurgeInterval: ms(v, "SNOOZE_PURGE_INTERVAL_MS"),
		SnoozeMinutes:       v.GetInt("SNOOZE_MINUTES"),
		AlertCritical:       v.GetInt64("ALERT_CRITICAL"),
		AlertLow:            v.GetInt64("ALERT_LOW"),
		AlertWarning:        v.GetInt64("ALERT_WARNING"),
		AlertDrift:          v.GetInt64("ALERT_DRIFT"),

		FeedHistory:       v.GetInt("FEED_HISTORY"),
		FeedHighWatermark: v.GetInt("FEED_HIGH_WATERMARK"),
	}
}

var validate = validator.New()

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation("config %s: %v fails %s", fe.Field(), fe.Value(), fe.Tag())
	}
	return apperr.Validation("config: %v", err)
}

// StorePolicy returns the timeout and retry policy of store calls.
func (c Config) StorePolicy() datastore.Policy {
	return datastore.Policy{Timeout: c.StoreTimeout, Attempts: c.StoreRetryAttempts, Delay: c.StoreRetryDelay}
}

// StoreOptions returns the backend selection.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Driver:      c.StoreDriver,
		BadgerPath:  c.BadgerPath,
		PostgresDSN: c.PostgresDSN,
		MaxConns:    c.PostgresMaxConns,
	}
}

// Alerts returns the alert engine settings.
func (c Config) Alerts() alerts.Config {
	return alerts.Config{
		Thresholds:     alerts.Thresholds{Critical: c.AlertCritical, Low: c.AlertLow, Warning: c.AlertWarning},
		DriftTolerance: c.AlertDrift,
		SnoozeDuration: time.Duration(c.SnoozeMinutes) * time.Minute,
	}
}

// Identity returns the identity used when a request carries none.
func (c Config) Identity() auth.Identity {
	return auth.Identity{UserID: c.DefaultUserID, OrgID: c.DefaultOrgID, Role: auth.ParseRole(c.DefaultRole)}
}
