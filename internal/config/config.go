// Package config loads service configuration from an optional YAML file,
// an optional .env file and TOFUSIG_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vitalvas/tofusig/directory"
	"github.com/vitalvas/tofusig/verifier"
)

// Cache kinds.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	Log struct {
		// dev | prod
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeout     string `yaml:"read_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Verify struct {
		DirectoryURL    string `yaml:"directory_url"`
		ExpectedPurpose string `yaml:"expected_purpose"`
		FreshnessWindow string `yaml:"freshness_window"`
		DisableCache    bool   `yaml:"disable_cache"`
		Label           string `yaml:"label"`
		BatchLimit      int    `yaml:"batch_limit"`
	} `yaml:"verify"`

	Resolver struct {
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"user_agent"`
		Breaker   struct {
			Enabled     bool   `yaml:"enabled"`
			MaxFailures uint32 `yaml:"max_failures"`
			OpenTimeout string `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"resolver"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

// Load reads the YAML file at path, applies TOFUSIG_* environment
// overrides and defaults, then validates the result. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"TOFUSIG_LOG_ENV":              &c.Log.Env,
		"TOFUSIG_LOG_LEVEL":            &c.Log.Level,
		"TOFUSIG_SERVER_ADDR":          &c.Server.Addr,
		"TOFUSIG_DIRECTORY_URL":        &c.Verify.DirectoryURL,
		"TOFUSIG_EXPECTED_PURPOSE":     &c.Verify.ExpectedPurpose,
		"TOFUSIG_FRESHNESS_WINDOW":     &c.Verify.FreshnessWindow,
		"TOFUSIG_SIGNATURE_LABEL":      &c.Verify.Label,
		"TOFUSIG_RESOLVER_TIMEOUT":     &c.Resolver.Timeout,
		"TOFUSIG_USER_AGENT":           &c.Resolver.UserAgent,
		"TOFUSIG_CACHE_KIND":           &c.Cache.Kind,
		"TOFUSIG_REDIS_ADDR":           &c.Cache.Redis.Addr,
		"TOFUSIG_REDIS_PASSWORD":       &c.Cache.Redis.Password,
		"TOFUSIG_REDIS_PREFIX":         &c.Cache.Redis.Prefix,
		"TOFUSIG_BREAKER_OPEN_TIMEOUT": &c.Resolver.Breaker.OpenTimeout,
	}

	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	bools := map[string]*bool{
		"TOFUSIG_DISABLE_CACHE":   &c.Verify.DisableCache,
		"TOFUSIG_BREAKER_ENABLED": &c.Resolver.Breaker.Enabled,
	}

	for name, dst := range bools {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			*dst = b
		}
	}

	ints := map[string]*int{
		"TOFUSIG_REDIS_DB":    &c.Cache.Redis.DB,
		"TOFUSIG_BATCH_LIMIT": &c.Verify.BatchLimit,
	}

	for name, dst := range ints {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			*dst = n
		}
	}

	if v, ok := os.LookupEnv("TOFUSIG_BREAKER_MAX_FAILURES"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return fmt.Errorf("TOFUSIG_BREAKER_MAX_FAILURES: %w", err)
		}

		c.Resolver.Breaker.MaxFailures = uint32(n)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Log.Env == "" {
		c.Log.Env = "dev"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}

	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}

	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Verify.FreshnessWindow == "" {
		c.Verify.FreshnessWindow = directory.DefaultFreshnessWindow.String()
	}

	if c.Resolver.Timeout == "" {
		c.Resolver.Timeout = directory.DefaultTimeout.String()
	}

	if c.Resolver.UserAgent == "" {
		c.Resolver.UserAgent = directory.DefaultUserAgent
	}

	if c.Cache.Kind == "" {
		c.Cache.Kind = CacheMemory
	}

	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = directory.DefaultRedisPrefix
	}
}

// Validate checks value formats. The directory URL is optional here since
// not every command needs one.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.read_timeout":           c.Server.ReadTimeout,
		"server.shutdown_timeout":       c.Server.ShutdownTimeout,
		"verify.freshness_window":       c.Verify.FreshnessWindow,
		"resolver.timeout":              c.Resolver.Timeout,
		"resolver.breaker.open_timeout": c.Resolver.Breaker.OpenTimeout,
	}

	for name, v := range durations {
		if v == "" {
			continue
		}

		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		if d < 0 {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}

	if c.Verify.DirectoryURL != "" {
		if err := directory.ValidateURL(c.Verify.DirectoryURL); err != nil {
			return fmt.Errorf("verify.directory_url: %w", err)
		}
	}

	if c.Verify.BatchLimit < 0 {
		return fmt.Errorf("verify.batch_limit: must not be negative")
	}

	switch c.Cache.Kind {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr: required for redis cache")
		}
	default:
		return fmt.Errorf("cache.kind: unknown kind %q", c.Cache.Kind)
	}

	return nil
}

// Duration parses a duration already checked by Validate. Empty strings
// yield zero.
func Duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// VerifierConfig returns the verification settings.
func (c *Config) VerifierConfig() verifier.Config {
	window := Duration(c.Verify.FreshnessWindow)

	return verifier.Config{
		DirectoryURL:    c.Verify.DirectoryURL,
		ExpectedPurpose: c.Verify.ExpectedPurpose,
		FreshnessWindow: window,
		DisableCache:    c.Verify.DisableCache || (c.Verify.FreshnessWindow != "" && window == 0),
		Label:           c.Verify.Label,
	}
}

// BreakerConfig returns the resolver breaker settings, or nil when the
// breaker is disabled.
func (c *Config) BreakerConfig() *directory.BreakerConfig {
	if !c.Resolver.Breaker.Enabled {
		return nil
	}

	return &directory.BreakerConfig{
		MaxFailures: c.Resolver.Breaker.MaxFailures,
		OpenTimeout: Duration(c.Resolver.Breaker.OpenTimeout),
	}
}
