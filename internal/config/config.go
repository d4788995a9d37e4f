// Package config provides configuration management for threadline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the YAML file checked when no explicit path is given.
const DefaultConfigFile = "threadline.yaml"

// Config holds all configuration for the threadline server and CLI.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string `yaml:"server_addr"`

	// ServerURL is the base URL the CLI client talks to.
	ServerURL string `yaml:"server_url"`

	// DataDir is the directory for local data (SQLite DB with session ids).
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// Assistant service credentials and the assistant definition to run.
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIOrgID   string `yaml:"openai_org_id"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	AssistantID   string `yaml:"assistant_id"`

	// TavilyAPIKey is the credential for the web search provider.
	TavilyAPIKey string `yaml:"tavily_api_key"`

	// PollInterval is the wait between two run status fetches. Default: 2s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxPolls bounds the number of status fetches per run. Default: 200.
	MaxPolls int `yaml:"max_polls"`

	// ToolConcurrency bounds how many tool calls of one round run at once.
	ToolConcurrency int `yaml:"tool_concurrency"`

	// SearchCacheBytes is the size of the in-process search response cache.
	SearchCacheBytes int64 `yaml:"search_cache_bytes"`

	// SearchRPS limits outbound search provider requests per second.
	SearchRPS float64 `yaml:"search_rps"`

	// AllowedEmails is the sign-in allow-list. Empty means everyone is allowed.
	AllowedEmails []string `yaml:"allowed_emails"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Slack integration (optional -- Socket Mode).
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackAppToken string `yaml:"slack_app_token"`

	// Telegram integration (optional -- long polling).
	TelegramBotToken string `yaml:"telegram_bot_token"`
}

// Defaults returns a Config populated with default values.
func Defaults() Config {
	return Config{
		ServerAddr:       ":7090",
		ServerURL:        "http://localhost:7090",
		DataDir:          defaultDataDir(),
		PollInterval:     2 * time.Second,
		MaxPolls:         200,
		ToolConcurrency:  4,
		SearchCacheBytes: 16 << 20,
		SearchRPS:        5,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load returns a Config using the hierarchy: defaults < YAML < env.
func Load() (*Config, error) {
	return LoadFrom(envOr("THREADLINE_CONFIG", DefaultConfigFile))
}

// LoadFrom is Load with an explicit YAML path. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, path); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "threadline.db")
	}
	if cfg.PollInterval < 0 {
		return nil, fmt.Errorf("poll interval must not be negative")
	}
	if cfg.MaxPolls <= 0 {
		return nil, fmt.Errorf("max polls must be positive, got %d", cfg.MaxPolls)
	}
	if cfg.SearchCacheBytes < 0 {
		return nil, fmt.Errorf("search cache bytes must not be negative, got %d", cfg.SearchCacheBytes)
	}
	if cfg.ToolConcurrency <= 0 {
		cfg.ToolConcurrency = 1
	}
	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	setString(&cfg.ServerAddr, "THREADLINE_ADDR")
	setString(&cfg.ServerURL, "THREADLINE_SERVER")
	setString(&cfg.DataDir, "THREADLINE_DATA_DIR")
	setString(&cfg.DatabasePath, "THREADLINE_DB")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIOrgID, "OPENAI_ORG_ID")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.AssistantID, "ASSISTANT_ID")
	setString(&cfg.TavilyAPIKey, "TAVILY_API_KEY")
	setDuration(&cfg.PollInterval, "THREADLINE_POLL_INTERVAL")
	setInt(&cfg.MaxPolls, "THREADLINE_MAX_POLLS")
	setInt(&cfg.ToolConcurrency, "THREADLINE_TOOL_CONCURRENCY")
	setFloat(&cfg.SearchRPS, "THREADLINE_SEARCH_RPS")
	setString(&cfg.LogLevel, "THREADLINE_LOG_LEVEL")
	setString(&cfg.LogFormat, "THREADLINE_LOG_FORMAT")
	setString(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	setString(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	setString(&cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("THREADLINE_ALLOWED_EMAILS"); v != "" {
		cfg.AllowedEmails = splitList(v)
	}
}

// Validate checks that the assistant service can be reached at all.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.AssistantID == "" {
		return fmt.Errorf("ASSISTANT_ID is required")
	}
	return nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(filepath.Dir(c.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// PollBudget is the longest a run may be polled before it is cancelled.
func (c *Config) PollBudget() time.Duration {
	return c.PollInterval * time.Duration(c.MaxPolls)
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// setDuration accepts Go durations ("1500ms") or plain seconds ("2").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(n * float64(time.Second))
	}
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".threadline"
	}
	return filepath.Join(home, ".threadline")
}
