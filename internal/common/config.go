package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Redis         RedisConfig         `toml:"redis"`
	Queue         QueueConfig         `toml:"queue"`
	Sessions      SessionsConfig      `toml:"sessions"`
	Browser       BrowserConfig       `toml:"browser"`
	Platform      PlatformConfig      `toml:"platform"`
	Credentials   CredentialsConfig   `toml:"credentials"`
	Notifications NotificationsConfig `toml:"notifications"`
	Automations   AutomationsConfig   `toml:"automations"`
	Logging       LoggingConfig       `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RedisConfig configures the externally visible per-account lock.
// When Addr is empty the lock falls back to Badger leases, which are only visible to this process.
type RedisConfig struct {
	Addr     string `toml:"addr"` // e.g. "localhost:6379"
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"` // Key prefix for lock entries
}

type QueueConfig struct {
	PollInterval string `toml:"poll_interval"` // e.g., "1s" - how often the dispatcher looks for eligible jobs
	Concurrency  int    `toml:"concurrency"`   // Number of concurrent workers
	MaxAttempts  int    `toml:"max_attempts"`  // Attempts before a retrying job is dead-lettered
	BaseBackoff  string `toml:"base_backoff"`  // First transient retry delay, doubled per attempt
	MaxBackoff   string `toml:"max_backoff"`   // Ceiling for any retry delay
	LockTTL      string `toml:"lock_ttl"`      // Per-account lock lease; heartbeat extends every TTL/3
}

type SessionsConfig struct {
	Deadline      string `toml:"deadline"`       // Time from creation before an unfinished session expires
	SweepInterval string `toml:"sweep_interval"` // How often the expiry sweep runs
}

// BrowserConfig configures the chromedp login driver
type BrowserConfig struct {
	Headless     bool   `toml:"headless"`
	UserAgent    string `toml:"user_agent"`
	LoginURL     string `toml:"login_url"`
	PollInterval string `toml:"poll_interval"` // Cookie jar polling interval while awaiting interaction
}

type PlatformConfig struct {
	BaseURL         string                     `toml:"base_url"`
	AppID           string                     `toml:"app_id"` // Value of the X-IG-App-ID header
	UserAgent       string                     `toml:"user_agent"`
	RequestTimeout  string                     `toml:"request_timeout"`
	DefaultCooldown string                     `toml:"default_cooldown"` // Used when a 429 carries no retry hint
	RateLimits      map[string]RateLimitConfig `toml:"rate_limits"`      // Keyed by call kind; "default" applies to the rest
	Breaker         BreakerConfig              `toml:"breaker"`
}

// RateLimitConfig is a token bucket: Burst tokens, refilled at PerMinute tokens per minute
type RateLimitConfig struct {
	PerMinute float64 `toml:"per_minute"`
	Burst     int     `toml:"burst"`
}

type BreakerConfig struct {
	MaxFailures uint32 `toml:"max_failures"` // Consecutive transport failures before the breaker opens
	OpenTimeout string `toml:"open_timeout"` // How long the breaker stays open
}

type CredentialsConfig struct {
	MigrateOnStartup bool   `toml:"migrate_on_startup"`
	RetireLegacyKeys bool   `toml:"retire_legacy_keys"` // Delete legacy keys once the rewrite is verified
	RevalidateAfter  string `toml:"revalidate_after"`   // Age after which a job verifies the session first
}

type NotificationsConfig struct {
	WebhookURL     string `toml:"webhook_url"`
	WebhookTimeout string `toml:"webhook_timeout"`
	MaxRetries     int    `toml:"max_retries"`
}

type AutomationsConfig struct {
	Enabled bool `toml:"enabled"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
	FileName   string   `toml:"file_name"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Redis: RedisConfig{
			Prefix: "gramflow:lock:",
		},
		Queue: QueueConfig{
			PollInterval: "1s",
			Concurrency:  4,
			MaxAttempts:  5,
			BaseBackoff:  "30s",
			MaxBackoff:   "30m",
			LockTTL:      "2m",
		},
		Sessions: SessionsConfig{
			Deadline:      "5m",
			SweepInterval: "15s",
		},
		Browser: BrowserConfig{
			Headless:     false, // Login needs a human at the keyboard
			LoginURL:     "https://www.instagram.com/accounts/login/",
			PollInterval: "2s",
		},
		Platform: PlatformConfig{
			BaseURL:         "https://i.instagram.com",
			AppID:           "936619743392459",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:  "30s",
			DefaultCooldown: "5m",
			RateLimits: map[string]RateLimitConfig{
				"default":      {PerMinute: 30, Burst: 10},
				"message_send": {PerMinute: 6, Burst: 3},
				"search":       {PerMinute: 10, Burst: 5},
			},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: "30s",
			},
		},
		Credentials: CredentialsConfig{
			MigrateOnStartup: true,
			RetireLegacyKeys: false,
			RevalidateAfter:  "6h",
		},
		Notifications: NotificationsConfig{
			WebhookTimeout: "10s",
			MaxRetries:     3,
		},
		Automations: AutomationsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
			FileName:   "gramflow.log",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI flags are applied separately by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GRAMFLOW_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("GRAMFLOW_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GRAMFLOW_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if badgerPath := os.Getenv("GRAMFLOW_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Redis
	if addr := os.Getenv("GRAMFLOW_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("GRAMFLOW_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}

	// Queue
	if pollInterval := os.Getenv("GRAMFLOW_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("GRAMFLOW_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil && c > 0 {
			config.Queue.Concurrency = c
		}
	}
	if maxAttempts := os.Getenv("GRAMFLOW_QUEUE_MAX_ATTEMPTS"); maxAttempts != "" {
		if m, err := strconv.Atoi(maxAttempts); err == nil && m > 0 {
			config.Queue.MaxAttempts = m
		}
	}
	if lockTTL := os.Getenv("GRAMFLOW_QUEUE_LOCK_TTL"); lockTTL != "" {
		config.Queue.LockTTL = lockTTL
	}

	// Sessions and browser
	if deadline := os.Getenv("GRAMFLOW_SESSIONS_DEADLINE"); deadline != "" {
		config.Sessions.Deadline = deadline
	}
	if headless := os.Getenv("GRAMFLOW_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}

	// Platform
	if baseURL := os.Getenv("GRAMFLOW_PLATFORM_BASE_URL"); baseURL != "" {
		config.Platform.BaseURL = baseURL
	}
	if userAgent := os.Getenv("GRAMFLOW_PLATFORM_USER_AGENT"); userAgent != "" {
		config.Platform.UserAgent = userAgent
	}

	// Credentials
	if retire := os.Getenv("GRAMFLOW_CREDENTIALS_RETIRE_LEGACY_KEYS"); retire != "" {
		if r, err := strconv.ParseBool(retire); err == nil {
			config.Credentials.RetireLegacyKeys = r
		}
	}

	// Notifications
	if webhookURL := os.Getenv("GRAMFLOW_WEBHOOK_URL"); webhookURL != "" {
		config.Notifications.WebhookURL = webhookURL
	}

	// Logging
	if level := os.Getenv("GRAMFLOW_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GRAMFLOW_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDuration parses a duration string, returning fallback when the value is empty or malformed
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidateSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// RateLimitFor returns the bucket configuration for a call kind, falling back to "default"
func (c *PlatformConfig) RateLimitFor(kind string) RateLimitConfig {
	if rl, ok := c.RateLimits[kind]; ok && rl.PerMinute > 0 {
		return rl
	}
	if rl, ok := c.RateLimits["default"]; ok && rl.PerMinute > 0 {
		return rl
	}
	return RateLimitConfig{PerMinute: 30, Burst: 10}
}
