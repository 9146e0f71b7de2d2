package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kiro-relay/internal/credential"
	"kiro-relay/internal/models"
	"kiro-relay/internal/upstream"
)

// Environment variables that override file values.
const (
	EnvPort     = "KIRO_RELAY_PORT"
	EnvDBPath   = "KIRO_RELAY_DB_PATH"
	EnvLogLevel = "KIRO_RELAY_LOG_LEVEL"
)

const (
	defaultPort      = 8080
	defaultBodyLimit = "2M"
	defaultDBPath    = "data/kiro-relay.db"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Models   ModelsConfig   `yaml:"models"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig defines listener and middleware configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
	// BodyLimit uses echo's size notation, for example "2M".
	BodyLimit   string          `yaml:"body_limit"`
	DisableAuth bool            `yaml:"disable_auth"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig enables a per-client token bucket when RequestsPerSecond > 0.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ExpiresIn         time.Duration `yaml:"expires_in"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// UpstreamConfig holds endpoint URLs and identification headers.
type UpstreamConfig struct {
	ChatURL          string        `yaml:"chat_url"`
	SocialRefreshURL string        `yaml:"social_refresh_url"`
	IdCRefreshURL    string        `yaml:"idc_refresh_url"`
	UsageLimitsURL   string        `yaml:"usage_limits_url"`
	AgentMode        string        `yaml:"agent_mode"`
	AmzUserAgent     string        `yaml:"amz_user_agent"`
	UserAgent        string        `yaml:"user_agent"`
	Timeout          time.Duration `yaml:"timeout"`
	RefreshTimeout   time.Duration `yaml:"refresh_timeout"`
}

// ModelsConfig overrides the built-in model table. An empty Mappings list
// keeps the defaults.
type ModelsConfig struct {
	Fallback string            `yaml:"fallback"`
	Mappings []ModelMapping    `yaml:"mappings"`
	Aliases  map[string]string `yaml:"aliases"`
}

// ModelMapping maps one public model id to the upstream identifier.
type ModelMapping struct {
	ID          string `yaml:"id"`
	InternalID  string `yaml:"internal_id"`
	Description string `yaml:"description"`
	MaxTokens   int    `yaml:"max_tokens"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration from disk, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = defaultBodyLimit
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 {
		if c.Server.RateLimit.Burst <= 0 {
			c.Server.RateLimit.Burst = int(c.Server.RateLimit.RequestsPerSecond) + 1
		}
		if c.Server.RateLimit.ExpiresIn <= 0 {
			c.Server.RateLimit.ExpiresIn = 3 * time.Minute
		}
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultDBPath
	}

	up := upstream.DefaultConfig()
	ep := credential.DefaultEndpoints()
	u := &c.Upstream
	setDefault(&u.ChatURL, up.URL)
	setDefault(&u.SocialRefreshURL, ep.SocialRefreshURL)
	setDefault(&u.IdCRefreshURL, ep.IdCRefreshURL)
	setDefault(&u.UsageLimitsURL, ep.UsageLimitsURL)
	setDefault(&u.AgentMode, up.AgentMode)
	setDefault(&u.AmzUserAgent, up.AmzUserAgent)
	setDefault(&u.UserAgent, up.UserAgent)
	if u.Timeout <= 0 {
		u.Timeout = up.Timeout
	}
	if u.RefreshTimeout <= 0 {
		u.RefreshTimeout = credential.DefaultRefreshTimeout
	}

	setDefault(&c.Models.Fallback, models.DefaultFallbackModel)
	setDefault(&c.Log.Level, defaultLogLevel)
	setDefault(&c.Log.Format, defaultLogFormat)
}

// ApplyEnv applies KIRO_RELAY_* overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must not be negative")
	}
	for _, origin := range c.Server.CORSOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("server.cors_origins must not contain empty entries")
		}
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path must not be empty")
	}

	for name, raw := range map[string]string{
		"upstream.chat_url":           c.Upstream.ChatURL,
		"upstream.social_refresh_url": c.Upstream.SocialRefreshURL,
		"upstream.idc_refresh_url":    c.Upstream.IdCRefreshURL,
		"upstream.usage_limits_url":   c.Upstream.UsageLimitsURL,
	} {
		if err := validateURL(name, raw); err != nil {
			return err
		}
	}

	if _, err := c.Models.Catalog(); err != nil {
		return fmt.Errorf("models: %w", err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// Catalog builds the model catalog, using the built-in table when no
// mappings are configured.
func (m ModelsConfig) Catalog() (*models.Catalog, error) {
	entries := models.DefaultModels()
	if len(m.Mappings) > 0 {
		entries = make([]models.ModelInfo, 0, len(m.Mappings))
		for _, mm := range m.Mappings {
			entries = append(entries, models.ModelInfo{
				ID:          mm.ID,
				InternalID:  mm.InternalID,
				Description: mm.Description,
				MaxTokens:   mm.MaxTokens,
			})
		}
	}
	return models.NewCatalog(entries, m.Aliases, m.Fallback)
}

// UpstreamClientConfig converts the section for upstream.New.
func (u UpstreamConfig) UpstreamClientConfig() upstream.Config {
	return upstream.Config{
		URL:          u.ChatURL,
		AgentMode:    u.AgentMode,
		AmzUserAgent: u.AmzUserAgent,
		UserAgent:    u.UserAgent,
		Timeout:      u.Timeout,
	}
}

// Endpoints converts the section for credential.NewGate.
func (u UpstreamConfig) Endpoints() credential.Endpoints {
	return credential.Endpoints{
		SocialRefreshURL: u.SocialRefreshURL,
		IdCRefreshURL:    u.IdCRefreshURL,
		UsageLimitsURL:   u.UsageLimitsURL,
	}
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return nil
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
