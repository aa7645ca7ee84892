package crawl

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagewatch/crawl/internal/extract"
	"github.com/hazyhaar/pagewatch/crawl/internal/notify"
	"github.com/hazyhaar/pagewatch/shield"
)

// Extraction strategies.
const (
	StrategySelector = "selector"
	StrategyAI       = "ai"
)

// Config holds all pagewatch configuration.
type Config struct {
	Port     string `yaml:"port"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Extractor ExtractorConfig `yaml:"extractor"`
	AI        AIConfig        `yaml:"ai"`
	Notify    notify.Config   `yaml:"notify"`
	Admin     AdminConfig     `yaml:"admin"`

	// EventRetentionDays bounds the events table. Default: 90.
	EventRetentionDays int `yaml:"event_retention_days"`
	// MCPTransport is "stdio" to serve MCP tools on stdin/stdout, empty to disable.
	MCPTransport string `yaml:"mcp_transport"`
}

// SchedulerConfig controls the poll loop.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Workers      int           `yaml:"workers"`
	Lease        time.Duration `yaml:"lease"`
	// Timezone names the location that defines "today" for duplicate
	// detection. Empty uses the server's local zone.
	Timezone string `yaml:"timezone"`
}

// FetchConfig controls page retrieval.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
	// AllowPrivate skips the private-address check for intranet targets.
	AllowPrivate bool `yaml:"allow_private"`
	// Browser renders pages in headless Chrome instead of plain HTTP.
	Browser    bool   `yaml:"browser"`
	BrowserURL string `yaml:"browser_url"`
}

// ExtractorConfig selects and tunes the extraction strategy.
type ExtractorConfig struct {
	Strategy string            `yaml:"strategy"`
	Profiles []extract.Profile `yaml:"profiles"`
}

// AIConfig tunes the AI strategy and its quota backoff.
type AIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Topic       string        `yaml:"topic"`
	Language    string        `yaml:"language"`
	CharLimit   int           `yaml:"char_limit"`
	Timeout     time.Duration `yaml:"timeout"`
	PreDelay    time.Duration `yaml:"pre_delay"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// AdminConfig protects the HTTP surface.
type AdminConfig struct {
	// User and PasswordHash enable HTTP basic auth when both are set.
	// PasswordHash is a bcrypt hash.
	User           string   `yaml:"user"`
	PasswordHash   string   `yaml:"password_hash"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimits maps "METHOD /path" to a per-IP limit. Default:
	// shield.DefaultRateLimits.
	RateLimits map[string]shield.Rule `yaml:"rate_limits"`
}

func (c *Config) defaults() {
	if c.Port == "" {
		c.Port = "8000"
	}
	if c.DBPath == "" {
		c.DBPath = "data/pagewatch.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = 3 * time.Second
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.Lease <= 0 {
		c.Scheduler.Lease = 15 * time.Minute
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Extractor.Strategy == "" {
		c.Extractor.Strategy = StrategySelector
	}
	if c.AI.PreDelay == 0 {
		c.AI.PreDelay = 2 * time.Second
	}
	if c.Admin.RateLimits == nil {
		c.Admin.RateLimits = shield.DefaultRateLimits()
	}
	if c.EventRetentionDays <= 0 {
		c.EventRetentionDays = 90
	}
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	switch c.Extractor.Strategy {
	case StrategySelector, StrategyAI:
	default:
		return fmt.Errorf("%w: unknown extractor strategy %q", ErrInvalidInput, c.Extractor.Strategy)
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("%w: timezone: %v", ErrInvalidInput, err)
		}
	}
	if (c.Admin.User == "") != (c.Admin.PasswordHash == "") {
		return fmt.Errorf("%w: admin user and password hash must be set together", ErrInvalidInput)
	}
	switch c.MCPTransport {
	case "", "stdio":
	default:
		return fmt.Errorf("%w: unknown mcp transport %q", ErrInvalidInput, c.MCPTransport)
	}
	return nil
}

// Location returns the duplicate-detection time zone.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LoadConfigFile reads a YAML config file. Defaults are not applied.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig builds the effective configuration: the YAML file named by
// PAGEWATCH_CONFIG (if any), then environment overrides, then defaults.
func LoadConfig(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if path := getenv("PAGEWATCH_CONFIG"); path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Port, "PORT")
	set(&c.DBPath, "DB_PATH")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.Notify.SMTP.Username, "SMTP_EMAIL")
	set(&c.Notify.SMTP.Password, "SMTP_PASSWORD")
	set(&c.Notify.SMTP.Host, "SMTP_HOST")
	set(&c.Notify.Webhook.URL, "WEBHOOK_URL")
	set(&c.Notify.Webhook.Secret, "WEBHOOK_SECRET")
	set(&c.AI.APIKey, "AI_API_KEY")
	set(&c.AI.BaseURL, "AI_BASE_URL")
	set(&c.AI.Model, "AI_MODEL")
	set(&c.Extractor.Strategy, "EXTRACTOR")
	set(&c.Admin.User, "ADMIN_USER")
	set(&c.Admin.PasswordHash, "ADMIN_PASSWORD_HASH")
	set(&c.MCPTransport, "MCP_TRANSPORT")

	if v := getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SMTP_PORT: %v", ErrInvalidInput, err)
		}
		c.Notify.SMTP.Port = p
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.Admin.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Admin.AllowedOrigins = append(c.Admin.AllowedOrigins, o)
			}
		}
	}
	return nil
}
