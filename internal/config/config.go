// Package config loads runtime settings from the environment.
//
// Values come from process environment variables parsed with
// github.com/caarlos0/env. A local .env file is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"inkpost.org/internal/auth"
)

const minSecretLength = 8

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config is the application configuration.
type Config struct {
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":9090"`
	CORSOrigin      string        `env:"CORS_ORIGIN" envDefault:"http://localhost:3000"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// TrustedProxies lists the addresses or CIDR ranges of reverse proxies
	// whose X-Forwarded-For header is believed. Empty means none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Store     StoreConfig
	Tokens    TokenConfig
	Cookies   CookieConfig
	RateLimit RateLimitConfig
}

// StoreConfig selects and configures the user store.
type StoreConfig struct {
	Backend     string `env:"STORE_BACKEND" envDefault:"memory"`
	PostgresDSN string `env:"PG_DSN"`
	MongoURI    string `env:"MONGODB_URI"`
	Database    string `env:"DB_NAME" envDefault:"inkpost"`
}

// TokenConfig holds signing secrets and lifetimes ("15m", "7d").
type TokenConfig struct {
	AccessSecret  string `env:"ACCESS_TOKEN_SECRET"`
	AccessExpiry  string `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	RefreshSecret string `env:"REFRESH_TOKEN_SECRET"`
	RefreshExpiry string `env:"REFRESH_TOKEN_EXPIRY" envDefault:"7d"`
	Issuer        string `env:"TOKEN_ISSUER" envDefault:"inkpost"`
}

// CookieConfig controls the session cookies. Secure may be turned off for
// plain-HTTP local development.
type CookieConfig struct {
	Secure bool   `env:"COOKIE_SECURE" envDefault:"true"`
	Domain string `env:"COOKIE_DOMAIN"`
}

// RateLimitConfig bounds per-client request rates on the auth endpoints.
type RateLimitConfig struct {
	RPS   float64 `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	Burst int     `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`
}

// Load reads .env (if any), parses the environment and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}
	return Parse(nil)
}

// Parse builds Config from environ, or from the process environment when
// environ is nil, and validates it.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Tokens.AccessExpiry = strings.TrimSpace(c.Tokens.AccessExpiry)
	c.Tokens.RefreshExpiry = strings.TrimSpace(c.Tokens.RefreshExpiry)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.AppEnv {
	case "development", "production", "test":
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be development, production or test, got %q", c.AppEnv))
	}

	if len(c.Tokens.AccessSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_SECRET must be at least %d characters", minSecretLength))
	}
	if len(c.Tokens.RefreshSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_SECRET must be at least %d characters", minSecretLength))
	}
	if c.Tokens.AccessSecret != "" && c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}
	if _, err := auth.ParseExpiry(c.Tokens.AccessExpiry); err != nil {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_EXPIRY: %w", err))
	}
	if _, err := auth.ParseExpiry(c.Tokens.RefreshExpiry); err != nil {
		errs = append(errs, fmt.Errorf("REFRESH_TOKEN_EXPIRY: %w", err))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			errs = append(errs, errors.New("PG_DSN is required for the postgres backend"))
		}
	case BackendMongo:
		if strings.TrimSpace(c.Store.MongoURI) == "" {
			errs = append(errs, errors.New("MONGODB_URI is required for the mongo backend"))
		}
		if strings.TrimSpace(c.Store.Database) == "" {
			errs = append(errs, errors.New("DB_NAME is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be memory, postgres or mongo, got %q", c.Store.Backend))
	}

	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT_RPS and AUTH_RATE_LIMIT_BURST must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated as a
// single-host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
