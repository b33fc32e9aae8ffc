// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the API process.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://residencial.db"`
	RedisURL    string `env:"REDIS_URL"`
	Version     string `env:"API_VERSION" envDefault:"1.0.0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Auth  AuthConfig
	HTTP  HTTPConfig
	Seed  SeedConfig
	Audit AuditConfig
}

// AuthConfig controls token signing, session lifetimes and the lockout policy.
type AuthConfig struct {
	Secret             string        `env:"AUTH_SECRET"`
	Issuer             string        `env:"AUTH_ISSUER" envDefault:"residencial-api"`
	AccessTTL          time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionRememberTTL time.Duration `env:"SESSION_REMEMBER_TTL" envDefault:"720h"`
	LockThreshold      int           `env:"LOGIN_FAIL_LOCK_THRESHOLD" envDefault:"5"`
	LockDuration       time.Duration `env:"LOGIN_FAIL_LOCK_TTL" envDefault:"15m"`
	LoginIPLimit       int           `env:"LOGIN_IP_LIMIT" envDefault:"20"`
	LoginIPWindow      time.Duration `env:"LOGIN_IP_WINDOW" envDefault:"5m"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"10"`
}

// HTTPConfig tunes the HTTP surface.
type HTTPConfig struct {
	RateLimitRPS   int      `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"40"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES. A bare address counts as a
// single-host prefix.
func (h HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range h.TrustedProxies {
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

// SeedConfig is the bootstrap administrator created by the seed step.
type SeedConfig struct {
	AdminUsername string `env:"SEED_ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword string `env:"SEED_ADMIN_PASSWORD" envDefault:"admin123"`
	AdminEmail    string `env:"SEED_ADMIN_EMAIL" envDefault:"admin@residencial.local"`
}

// AuditConfig bounds the best-effort audit writes.
type AuditConfig struct {
	WriteTimeout time.Duration `env:"AUDIT_WRITE_TIMEOUT" envDefault:"3s"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads the environment without validating. Tools that never sign
// tokens, such as the migrator, use it directly.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Auth.Secret) == "" {
		problems = append(problems, "AUTH_SECRET is required")
	} else if len(c.Auth.Secret) < 16 {
		problems = append(problems, "AUTH_SECRET must be at least 16 characters")
	}
	if c.Auth.AccessTTL <= 0 {
		problems = append(problems, "ACCESS_TOKEN_TTL must be positive")
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.SessionRememberTTL <= 0 {
		problems = append(problems, "session TTLs must be positive")
	}
	if c.Auth.LockThreshold < 1 {
		problems = append(problems, "LOGIN_FAIL_LOCK_THRESHOLD must be at least 1")
	}
	if c.Auth.LockDuration <= 0 {
		problems = append(problems, "LOGIN_FAIL_LOCK_TTL must be positive")
	}
	if c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0 {
		problems = append(problems, "rate limit values must be positive")
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
