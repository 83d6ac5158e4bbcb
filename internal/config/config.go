package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Session  SessionConfig  `toml:"session"`
	Payments PaymentsConfig `toml:"payments"`
	Logging  LoggingConfig  `toml:"logging"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
}

// ServerConfig contains server-related configuration. X-Forwarded-For is
// only honored for requests arriving from TrustedProxies.
type ServerConfig struct {
	Port           string   `toml:"port"`
	Host           string   `toml:"host"`
	Environment    string   `toml:"environment"`
	PublicURL      string   `toml:"public_url"`
	EnableCORS     bool     `toml:"enable_cors"`
	ReadTimeout    int      `toml:"read_timeout_seconds"`
	WriteTimeout   int      `toml:"write_timeout_seconds"`
	RateLimit      int      `toml:"rate_limit_per_minute"`
	TrustedProxies []string `toml:"trusted_proxies"`
}

// DatabaseConfig contains database-related configuration. URL selects the
// backend: "sqlite://path" (or a bare path) or "postgres://...".
type DatabaseConfig struct {
	URL            string `toml:"url"`
	MaxConnections int    `toml:"max_connections"`
}

// CatalogConfig describes where the encrypted catalog lives and the storefront limits
type CatalogConfig struct {
	Path          string `toml:"path"`
	EncryptionKey string `toml:"-"`
	PageSize      int    `toml:"page_size"`
	MaxCartItems  int    `toml:"max_cart_items"`
	AllowEmpty    bool   `toml:"allow_empty"`
}

// SessionConfig contains anonymous session settings. PreviousSecrets still
// decode cookies issued before a secret rotation.
type SessionConfig struct {
	Duration        string   `toml:"duration"`
	CookieName      string   `toml:"cookie_name"`
	SecureCookies   bool     `toml:"secure_cookies"`
	Secret          string   `toml:"-"`
	PreviousSecrets []string `toml:"-"`
}

// PaymentsConfig contains payment processor configuration. Keys come from the environment.
type PaymentsConfig struct {
	Currency       string `toml:"currency"`
	SecretKey      string `toml:"-"`
	PublishableKey string `toml:"-"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"-"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "3000",
			Host:         "0.0.0.0",
			Environment:  "development",
			EnableCORS:   false,
			ReadTimeout:  30,
			WriteTimeout: 30,
			RateLimit:    30,
		},
		Database: DatabaseConfig{
			URL:            "sqlite://./data/crate.db",
			MaxConnections: 5,
		},
		Catalog: CatalogConfig{
			Path:         "./data/tracks.json.enc",
			PageSize:     12,
			MaxCartItems: 12,
			AllowEmpty:   false,
		},
		Session: SessionConfig{
			Duration:      "24h",
			CookieName:    "crate_session",
			SecureCookies: false,
		},
		Payments: PaymentsConfig{
			Currency: "usd",
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies environment
// overrides (a .env file next to the process is loaded first if present).
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays secrets and deployment settings read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("APP_ENV"); v != "" {
		c.Server.Environment = v
	}
	if v := getenv("PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	c.Catalog.EncryptionKey = getenv("ENCRYPTION_KEY")
	c.Session.Secret = getenv("SESSION_SECRET")
	c.Session.PreviousSecrets = nil
	for _, secret := range strings.Split(getenv("SESSION_PREVIOUS_SECRETS"), ",") {
		if secret = strings.TrimSpace(secret); secret != "" {
			c.Session.PreviousSecrets = append(c.Session.PreviousSecrets, secret)
		}
	}
	c.Payments.SecretKey = getenv("STRIPE_SECRET_KEY")
	c.Payments.PublishableKey = getenv("STRIPE_PUBLISHABLE_KEY")
	c.Ngrok.AuthToken = getenv("NGROK_AUTHTOKEN")

	if c.IsProduction() {
		c.Session.SecureCookies = true
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# crate storefront configuration
# Secrets (ENCRYPTION_KEY, SESSION_SECRET, SESSION_PREVIOUS_SECRETS, STRIPE_SECRET_KEY,
# STRIPE_PUBLISHABLE_KEY, NGROK_AUTHTOKEN) are read from the environment or a .env file, never from here.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if _, err := c.ParseTrustedProxies(); err != nil {
		return err
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog path cannot be empty")
	}
	if c.Catalog.PageSize < 1 {
		return fmt.Errorf("catalog page size must be at least 1")
	}
	if c.Catalog.MaxCartItems < 1 {
		return fmt.Errorf("max cart items must be at least 1")
	}
	if c.Catalog.EncryptionKey != "" {
		if _, err := c.CatalogKey(); err != nil {
			return err
		}
	}

	if _, err := time.ParseDuration(c.Session.Duration); err != nil {
		return fmt.Errorf("invalid session duration: %w", err)
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name cannot be empty")
	}
	if c.IsProduction() && c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required in production")
	}

	if len(c.Payments.Currency) != 3 {
		return fmt.Errorf("invalid currency: %q", c.Payments.Currency)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// CatalogKey decodes the hex AES-256 key used for the encrypted catalog.
func (c *Config) CatalogKey() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.Catalog.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// ParseTrustedProxies returns the configured proxy networks. Bare addresses
// become single-host networks.
func (c *Config) ParseTrustedProxies() ([]*net.IPNet, error) {
	networks := make([]*net.IPNet, 0, len(c.Server.TrustedProxies))
	for _, entry := range c.Server.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy: %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			networks = append(networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy: %w", err)
		}
		networks = append(networks, network)
	}
	return networks, nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// PaymentsEnabled reports whether a payment processor key is configured
func (c *Config) PaymentsEnabled() bool {
	return c.Payments.SecretKey != ""
}
