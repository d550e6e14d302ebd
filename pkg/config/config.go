// Package config loads the settings of the valentin API service.
//
// Settings come from three layers, later layers winning:
//   - built-in defaults (see [Default])
//   - an optional YAML file, with per-environment override sections
//   - environment variables (VALENTIN_ADDR, DATABASE_URL, SESSION_SECRET, ...)
//
// The environment layer exists so container deployments can keep secrets out
// of the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// MinSecretBytes matches the session codec's minimum secret length.
const MinSecretBytes = 32

type Config struct {
	Environment Environment `yaml:"environment"`

	// Addr is the listen address of the HTTP server.
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	// RedisURL enables the redis key usage tracker when set.
	RedisURL string `yaml:"redis_url"`
	LogLevel string `yaml:"log_level"`

	// MaxBodyBytes caps request bodies on validated routes. Zero disables
	// the cap.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TrustedProxy means a proxy in front of the server overwrites
	// X-Forwarded-For, so the header identifies the client.
	TrustedProxy bool `yaml:"trusted_proxy"`

	Session SessionConfig `yaml:"session"`
	SignIn  SignInConfig  `yaml:"signin"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
	Cookie string        `yaml:"cookie"`
	// Secure marks the session cookie HTTPS-only.
	Secure bool `yaml:"secure"`
}

type SignInConfig struct {
	// RatePerMinute caps sign-in attempts per client IP. Zero disables the
	// limit.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// Overrides holds the fields an environment section may change.
type Overrides struct {
	Addr          *string `yaml:"addr,omitempty"`
	LogLevel      *string `yaml:"log_level,omitempty"`
	SecureCookies *bool   `yaml:"secure_cookies,omitempty"`
}

func Default() *Config {
	return &Config{
		Environment:  Development,
		Addr:         ":8080",
		LogLevel:     "info",
		MaxBodyBytes: 1 << 20,
		Session: SessionConfig{
			TTL:    24 * time.Hour,
			Cookie: "session",
		},
		SignIn: SignInConfig{
			RatePerMinute: 10,
		},
	}
}

// Load builds the configuration from path and the environment. An empty path
// falls back to VALENTIN_CONFIG; when that is unset too, only defaults and
// environment variables apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv("VALENTIN_CONFIG"))
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	cfg.applyEnvironmentOverrides()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var o *Overrides
	switch c.Environment {
	case Development:
		o = c.Development
	case Production:
		o = c.Production
		if o == nil {
			secure := true
			o = &Overrides{SecureCookies: &secure}
		}
	}
	if o == nil {
		return
	}
	if o.Addr != nil {
		c.Addr = *o.Addr
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	if o.SecureCookies != nil {
		c.Session.Secure = *o.SecureCookies
	}
}

func (c *Config) applyEnv() {
	envString("VALENTIN_ADDR", &c.Addr)
	envString("DATABASE_URL", &c.DatabaseURL)
	envString("REDIS_URL", &c.RedisURL)
	envString("SESSION_SECRET", &c.Session.Secret)
	envString("SESSION_COOKIE", &c.Session.Cookie)
	envString("LOG_LEVEL", &c.LogLevel)
	if raw := strings.TrimSpace(os.Getenv("SESSION_TTL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			c.Session.TTL = d
		}
	}
	if v, ok := envNonNegative("MAX_BODY_BYTES"); ok {
		c.MaxBodyBytes = int64(v)
	}
	if v, ok := envNonNegative("SIGNIN_RATE_PER_MINUTE"); ok {
		c.SignIn.RatePerMinute = v
	}
	if raw := strings.TrimSpace(os.Getenv("TRUSTED_PROXY")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.TrustedProxy = v
		}
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envNonNegative reports the integer value of key. Unset, malformed and
// negative values are ignored; zero is kept since it disables a limit.
func envNonNegative(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if len(c.Session.Secret) < MinSecretBytes {
		errs = append(errs, fmt.Errorf("session.secret must be at least %d bytes", MinSecretBytes))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}
