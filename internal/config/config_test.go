package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/auth"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POS_CONFIG", "")
	for k := range defaults {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()
	if c.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr default")
	}
	if c.ShutdownTimeout != 15*time.Second {
		t.Fatalf("ShutdownTimeout default")
	}
	if c.StoreDriver != "memory" {
		t.Fatalf("StoreDriver default")
	}
	p := c.StorePolicy()
	if p.Timeout != 10*time.Second || p.Attempts != 3 || p.Delay != 2*time.Second {
		t.Fatalf("store policy default: %+v", p)
	}
	if c.PollInterval != 30*time.Second || c.SnoozePurgeInterval != time.Minute {
		t.Fatalf("intervals default")
	}
	a := c.Alerts()
	if a.Thresholds.Critical != 5 || a.Thresholds.Low != 10 || a.Thresholds.Warning != 15 {
		t.Fatalf("thresholds default: %+v", a.Thresholds)
	}
	if a.DriftTolerance != 1 || a.SnoozeDuration != 30*time.Minute {
		t.Fatalf("snooze default")
	}
	if c.Identity().Role != auth.RoleCashier {
		t.Fatalf("role default")
	}
	require.NoError(t, c.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT", "2")
	t.Setenv("STORE_DRIVER", "Badger")
	t.Setenv("BADGER_PATH", "/tmp/pos")
	t.Setenv("STORE_RETRY_ATTEMPTS", "5")
	t.Setenv("STOCK_CAS", "true")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("ALERT_WARNING", "20")
	t.Setenv("DEFAULT_ORG_ID", "org-9")
	t.Setenv("DEFAULT_ROLE", "admin")
	c := Load()
	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.Equal(t, 2*time.Second, c.ShutdownTimeout)
	assert.Equal(t, "badger", c.StoreOptions().Driver)
	assert.Equal(t, "/tmp/pos", c.StoreOptions().BadgerPath)
	assert.Equal(t, 5, c.StorePolicy().Attempts)
	assert.True(t, c.StockCAS)
	assert.Equal(t, 250*time.Millisecond, c.PollInterval)
	assert.Equal(t, int64(20), c.Alerts().Thresholds.Warning)
	assert.Equal(t, auth.Identity{UserID: "system", OrgID: "org-9", Role: auth.RoleAdmin}, c.Identity())
	require.NoError(t, c.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ALERT_CRITICAL: 2\nSNOOZE_MINUTES: 45\n"), 0o600))
	t.Setenv("POS_CONFIG", path)
	t.Setenv("SNOOZE_MINUTES", "50")
	c := Load()
	assert.Equal(t, int64(2), c.AlertCritical)
	assert.Equal(t, 50, c.SnoozeMinutes, "environment wins over the file")
}

func TestValidateRejects(t *testing.T) {
	clearEnv(t)
	cases := map[string]func(*Config){
		"threshold order":     func(c *Config) { c.AlertLow = c.AlertWarning },
		"postgres needs dsn":  func(c *Config) { c.StoreDriver = "postgres" },
		"unknown driver":      func(c *Config) { c.StoreDriver = "sqlite" },
		"no retry attempts":   func(c *Config) { c.StoreRetryAttempts = 0 },
		"zero poll interval":  func(c *Config) { c.PollInterval = 0 },
		"unknown role":        func(c *Config) { c.DefaultRole = "root" },
		"missing default org": func(c *Config) { c.DefaultOrgID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Load()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), apperr.ErrValidation)
		})
	}
}
