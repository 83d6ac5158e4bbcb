package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:3000", cfg.GetAddress())
	assert.False(t, cfg.PaymentsEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnv(envMap(map[string]string{
		"DATABASE_URL":             "postgres://crate@localhost/crate",
		"PORT":                     "8080",
		"APP_ENV":                  "production",
		"STRIPE_SECRET_KEY":        "sk_test_123",
		"SESSION_SECRET":           "s3cret",
		"SESSION_PREVIOUS_SECRETS": "old-1, ,old-2",
	}))

	assert.Equal(t, "postgres://crate@localhost/crate", cfg.Database.URL)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Session.SecureCookies, "production forces secure cookies")
	assert.True(t, cfg.PaymentsEnabled())
	assert.Equal(t, []string{"old-1", "old-2"}, cfg.Session.PreviousSecrets)
	require.NoError(t, cfg.Validate())
}

func TestParseTrustedProxies(t *testing.T) {
	cfg := DefaultConfig()
	networks, err := cfg.ParseTrustedProxies()
	require.NoError(t, err)
	assert.Empty(t, networks)

	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10", "::1"}
	networks, err = cfg.ParseTrustedProxies()
	require.NoError(t, err)
	require.Len(t, networks, 3)
	assert.True(t, networks[0].Contains(net.ParseIP("10.1.2.3")))
	assert.True(t, networks[1].Contains(net.ParseIP("192.0.2.10")))
	assert.False(t, networks[1].Contains(net.ParseIP("192.0.2.11")))
	assert.True(t, networks[2].Contains(net.ParseIP("::1")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "port"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "rate limit"},
		{"zero cart size", func(c *Config) { c.Catalog.MaxCartItems = 0 }, "cart"},
		{"bad duration", func(c *Config) { c.Session.Duration = "forever" }, "duration"},
		{"bad currency", func(c *Config) { c.Payments.Currency = "dollars" }, "currency"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"short key", func(c *Config) { c.Catalog.EncryptionKey = "abcd" }, "32 bytes"},
		{"production without secret", func(c *Config) { c.Server.Environment = "production" }, "SESSION_SECRET"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"proxy.local"} }, "trusted proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCatalogKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Catalog.EncryptionKey = strings.Repeat("ab", 32)
	key, err := cfg.CatalogKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	cfg.Catalog.EncryptionKey = "not-hex"
	_, err = cfg.CatalogKey()
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Server.Port = "4100"
	cfg.Catalog.AllowEmpty = true
	cfg.Session.Secret = "never-written"
	require.NoError(t, cfg.SaveToFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "never-written", "secrets stay out of the file")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "4100", loaded.Server.Port)
	assert.True(t, loaded.Catalog.AllowEmpty)
}
