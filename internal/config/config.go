// Package config loads the dashboard client settings from an optional YAML
// file, a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the application
type Config struct {
	GLPI    GLPIConfig    `yaml:"glpi"`
	Retry   RetryConfig   `yaml:"retry"`
	Levels  LevelsConfig  `yaml:"levels"`
	Ranking RankingConfig `yaml:"ranking"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// GLPIConfig locates and authenticates against the GLPI REST API.
type GLPIConfig struct {
	URL            string        `yaml:"url"`
	AppToken       string        `yaml:"appToken"`
	UserToken      string        `yaml:"userToken"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	LoginTimeout   time.Duration `yaml:"loginTimeout"`
	SessionTTL     time.Duration `yaml:"sessionTTL"`
}

// RetryConfig controls login and request retries.
type RetryConfig struct {
	MaxRetries int     `yaml:"maxRetries"`
	Base       float64 `yaml:"base"`
}

// LevelsConfig selects the service-level table. Custom wins over Preset.
type LevelsConfig struct {
	Preset string                `yaml:"preset"`
	Custom []fields.ServiceLevel `yaml:"custom"`
}

// RankingConfig tunes the technician ranking.
type RankingConfig struct {
	TechnicianProfileID int `yaml:"technicianProfileID"`
	FallbackCap         int `yaml:"fallbackCap"`
	Concurrency         int `yaml:"concurrency"`
}

// CacheConfig selects and tunes the cache tier.
type CacheConfig struct {
	Backend   string `yaml:"backend"`
	RedisURL  string `yaml:"redisURL"`
	KeyPrefix string `yaml:"keyPrefix"`

	// TTLs overrides per-resource lifetimes, keyed by resource name.
	TTLs map[string]time.Duration `yaml:"ttls"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ServerConfig controls the HTTP listener of the serve command.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GLPI: GLPIConfig{
			RequestTimeout: 30 * time.Second,
			LoginTimeout:   10 * time.Second,
			SessionTTL:     time.Hour,
		},
		Retry:   RetryConfig{MaxRetries: 3, Base: 2},
		Levels:  LevelsConfig{Preset: fields.PresetTI},
		Ranking: RankingConfig{TechnicianProfileID: 6, FallbackCap: 20, Concurrency: 4},
		Cache: CacheConfig{
			Backend:   BackendMemory,
			RedisURL:  "redis://localhost:6379/0",
			KeyPrefix: "glpi-dashboard",
		},
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// Load builds the configuration. path defaults to $GLPI_DASHBOARD_CONFIG; an
// empty path skips the file. A .env file in the working directory is loaded
// when present and never overrides variables already set.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("GLPI_DASHBOARD_CONFIG")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("GLPI_URL"); v != "" {
		cfg.GLPI.URL = v
	}
	if v := os.Getenv("GLPI_APP_TOKEN"); v != "" {
		cfg.GLPI.AppToken = v
	}
	if v := os.Getenv("GLPI_USER_TOKEN"); v != "" {
		cfg.GLPI.UserToken = v
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		cfg.Retry.MaxRetries = n
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.GLPI.RequestTimeout = d
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		cfg.GLPI.SessionTTL = d
	}
	if v := os.Getenv("SERVICE_LEVELS"); v != "" {
		cfg.Levels.Preset = v
		cfg.Levels.Custom = nil
	}
	if v := os.Getenv("TECHNICIAN_PROFILE_ID"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TECHNICIAN_PROFILE_ID: %w", err)
		}
		cfg.Ranking.TechnicianProfileID = n
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("CACHE_KEY_PREFIX"); v != "" {
		cfg.Cache.KeyPrefix = v
	}
	for resource := range cache.DefaultTTLs {
		name := "CACHE_TTL_" + strings.ToUpper(string(resource))
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if cfg.Cache.TTLs == nil {
			cfg.Cache.TTLs = make(map[string]time.Duration)
		}
		cfg.Cache.TTLs[string(resource)] = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.Logging.Pretty = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration accepts whole seconds ("30") or a Go duration ("30s").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate rejects values the client cannot run with. Missing GLPI tokens
// are not rejected here: the session manager reports them as configuration
// errors when a call is attempted.
func (c *Config) Validate() error {
	var errs []error

	if c.GLPI.URL != "" {
		u, err := url.Parse(c.GLPI.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("glpi.url %q must be an absolute http(s) URL", c.GLPI.URL))
		}
	}
	if c.GLPI.RequestTimeout <= 0 {
		errs = append(errs, errors.New("glpi.requestTimeout must be positive"))
	}
	if c.GLPI.LoginTimeout <= 0 {
		errs = append(errs, errors.New("glpi.loginTimeout must be positive"))
	}
	if c.GLPI.SessionTTL <= 0 {
		errs = append(errs, errors.New("glpi.sessionTTL must be positive"))
	}
	if c.Retry.MaxRetries < 1 {
		errs = append(errs, errors.New("retry.maxRetries must be at least 1"))
	}
	if c.Retry.Base <= 0 {
		errs = append(errs, errors.New("retry.base must be positive"))
	}
	if _, err := c.ServiceLevels(); err != nil {
		errs = append(errs, err)
	}
	if c.Ranking.TechnicianProfileID <= 0 {
		errs = append(errs, errors.New("ranking.technicianProfileID must be positive"))
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redisURL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q (want %q or %q)", c.Cache.Backend, BackendMemory, BackendRedis))
	}
	for name, ttl := range c.Cache.TTLs {
		if _, ok := cache.DefaultTTLs[cache.Resource(name)]; !ok {
			errs = append(errs, fmt.Errorf("unknown cache resource %q", name))
		}
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("cache ttl for %q must be positive", name))
		}
	}

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	return errors.Join(errs...)
}

// ServiceLevels resolves the level table: the custom list when given,
// otherwise the preset.
func (c *Config) ServiceLevels() ([]fields.ServiceLevel, error) {
	if len(c.Levels.Custom) == 0 {
		return fields.LevelPreset(c.Levels.Preset)
	}
	for _, l := range c.Levels.Custom {
		if strings.TrimSpace(l.Name) == "" || l.GroupID <= 0 {
			return nil, fmt.Errorf("invalid custom service level %+v", l)
		}
	}
	return append([]fields.ServiceLevel(nil), c.Levels.Custom...), nil
}

// CacheTTLs returns the per-resource overrides.
func (c *Config) CacheTTLs() map[cache.Resource]time.Duration {
	out := make(map[cache.Resource]time.Duration, len(c.Cache.TTLs))
	for name, ttl := range c.Cache.TTLs {
		out[cache.Resource(name)] = ttl
	}
	return out
}
