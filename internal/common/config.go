package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Band        BandConfig      `toml:"band"`
	Storage     StorageConfig   `toml:"storage"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Claude      ClaudeConfig    `toml:"claude"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// BandConfig describes the Band site being crawled
type BandConfig struct {
	BaseURL       string   `toml:"base_url"`       // Band site base URL (default: "https://band.us")
	AuthURL       string   `toml:"auth_url"`       // Login page URL
	CookieDomains []string `toml:"cookie_domains"` // Domain suffixes kept when persisting sessions
	SessionTTL    string   `toml:"session_ttl"`    // Cached session lifetime as duration string (default: "24h")
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// CrawlerConfig contains browser automation and orchestration settings
type CrawlerConfig struct {
	Headless            bool   `toml:"headless"`              // Run Chrome headless (default: true)
	UserAgent           string `toml:"user_agent"`            // Browser user agent string
	NavigationTimeout   string `toml:"navigation_timeout"`    // Per-navigation timeout (default: "30s")
	CommentWaitTimeout  string `toml:"comment_wait_timeout"`  // Wait for the comment container (default: "8s")
	MinActionDelay      string `toml:"min_action_delay"`      // Lower bound of the pause between navigation actions (default: "2s")
	MaxActionDelay      string `toml:"max_action_delay"`      // Upper bound of the pause between navigation actions (default: "4s")
	RetryAttempts       int    `toml:"retry_attempts"`        // Retries for transient scrape failures (default: 2)
	RetryBackoffMin     string `toml:"retry_backoff_min"`     // Lower bound of the randomized retry backoff (default: "2s")
	RetryBackoffMax     string `toml:"retry_backoff_max"`     // Upper bound of the randomized retry backoff (default: "4s")
	ScrollPasses        int    `toml:"scroll_passes"`         // Auto-scroll passes to trigger lazy loading (default: 5)
	TaskTimeout         string `toml:"task_timeout"`          // Wall-clock ceiling per crawl task (default: "10m")
	CaptchaWaitTimeout  string `toml:"captcha_wait_timeout"`  // Total manual-login wait after a CAPTCHA (default: "5m")
	CaptchaPollInterval string `toml:"captcha_poll_interval"` // Poll interval during manual-login wait (default: "30s")
}

// ClaudeConfig contains Anthropic Claude settings for product extraction
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key (also: ANTHROPIC_API_KEY)
	Model       string  `toml:"model"`       // Model for extraction (default: "claude-sonnet-4-20250514")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "2m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.3 for strict JSON)
}

// SchedulerConfig drives periodic re-crawls of configured bands
type SchedulerConfig struct {
	Enabled  bool             `toml:"enabled"`
	Schedule string           `toml:"schedule"` // Cron schedule with seconds field (default: "0 0 */6 * * *")
	Targets  []ScheduleTarget `toml:"targets"`
}

// ScheduleTarget is one band re-crawled on the schedule
type ScheduleTarget struct {
	AccountID string `toml:"account_id"` // Account whose cached session is used
	BandID    string `toml:"band_id"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns configuration defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Band: BandConfig{
			BaseURL:       "https://band.us",
			AuthURL:       "https://auth.band.us/login_page",
			CookieDomains: []string{".band.us", "band.us", "auth.band.us"},
			SessionTTL:    "24h",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/bandcrawl",
			},
		},
		Crawler: CrawlerConfig{
			Headless:            true,
			UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			NavigationTimeout:   "30s",
			CommentWaitTimeout:  "8s",
			MinActionDelay:      "2s",
			MaxActionDelay:      "4s",
			RetryAttempts:       2,
			RetryBackoffMin:     "2s",
			RetryBackoffMax:     "4s",
			ScrollPasses:        5,
			TaskTimeout:         "10m",
			CaptchaWaitTimeout:  "5m",
			CaptchaPollInterval: "30s",
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Timeout:     "2m",
			Temperature: 0.3,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 0 */6 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("BANDCRAWL_ENV"); env != "" {
		config.Environment = env
	}
	if path := os.Getenv("BANDCRAWL_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("BANDCRAWL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if key := os.Getenv("BANDCRAWL_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}
	if model := os.Getenv("BANDCRAWL_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if headless := os.Getenv("BANDCRAWL_HEADLESS"); headless != "" {
		if v, err := strconv.ParseBool(headless); err == nil {
			config.Crawler.Headless = v
		}
	}
	if baseURL := os.Getenv("BANDCRAWL_BAND_BASE_URL"); baseURL != "" {
		config.Band.BaseURL = baseURL
	}
}

// Validate checks duration strings and the cron schedule up front so a bad
// config fails at startup rather than mid-crawl.
func (c *Config) Validate() error {
	durations := map[string]string{
		"band.session_ttl":              c.Band.SessionTTL,
		"crawler.navigation_timeout":    c.Crawler.NavigationTimeout,
		"crawler.comment_wait_timeout":  c.Crawler.CommentWaitTimeout,
		"crawler.min_action_delay":      c.Crawler.MinActionDelay,
		"crawler.max_action_delay":      c.Crawler.MaxActionDelay,
		"crawler.retry_backoff_min":     c.Crawler.RetryBackoffMin,
		"crawler.retry_backoff_max":     c.Crawler.RetryBackoffMax,
		"crawler.task_timeout":          c.Crawler.TaskTimeout,
		"crawler.captcha_wait_timeout":  c.Crawler.CaptchaWaitTimeout,
		"crawler.captcha_poll_interval": c.Crawler.CaptchaPollInterval,
		"claude.timeout":                c.Claude.Timeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q: %w", name, value, err)
		}
	}

	if c.Scheduler.Enabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.schedule %q: %w", c.Scheduler.Schedule, err)
		}
	}

	return nil
}

// Duration parses a validated duration string with a fallback
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
