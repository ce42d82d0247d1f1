// Package config holds the run configuration for the check-in job: target
// site constants, browser launch settings, retry policy, and notification
// sink credentials. Config is loaded from an optional YAML file and then
// overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
)

// Config holds all jlc-auto-check-in configuration.
type Config struct {
	// Task API endpoint settings.
	Task TaskConfig `yaml:"task"`

	// Browser launch settings.
	Browser BrowserConfig `yaml:"browser"`

	// Retry policy.
	Retry RetryConfig `yaml:"retry"`

	// Notification sinks.
	Notify NotifyConfig `yaml:"notify"`

	// FailureExit makes the process exit non-zero when any account ends in a
	// failed or password-error state.
	FailureExit bool `yaml:"failure_exit"`
}

// TaskConfig configures the REST client for the check-in API.
type TaskConfig struct {
	BaseURL   string `yaml:"base_url"`
	EntryURL  string `yaml:"entry_url"`
	Referer   string `yaml:"referer"`
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
}

// BrowserConfig configures the Chrome instance driven per attempt.
type BrowserConfig struct {
	Bin                 string `yaml:"bin"`
	Headless            bool   `yaml:"headless"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	DisableImages       bool   `yaml:"disable_images"`
}

// RetryConfig bounds the two-pass retry loop.
type RetryConfig struct {
	// MaxAttempts is the pass-1 ceiling per account (first try included).
	MaxAttempts int `yaml:"max_attempts"`
	// FinalPass enables the single extra sweep over still-failing accounts.
	FinalPass bool `yaml:"final_pass"`
}

// NotifyConfig holds credentials for the outbound summary sinks. An empty
// value disables that sink.
type NotifyConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	WeComKey         string `yaml:"wecom_key"`
	DingTalkWebhook  string `yaml:"dingtalk_webhook"`
	PushPlusToken    string `yaml:"pushplus_token"`
	ServerChanKey    string `yaml:"serverchan_key"`
	CoolPushKey      string `yaml:"coolpush_key"`
	CustomWebhook    string `yaml:"custom_webhook"`
}

// DefaultConfig returns the built-in defaults for the target site.
func DefaultConfig() *Config {
	return &Config{
		Task: TaskConfig{
			BaseURL:   "https://m.jlc.com",
			EntryURL:  "https://m.jlc.com/mapp/pages/my/index",
			Referer:   "https://m.jlc.com/mapp/pages/my/index",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Timeout:   "10s",
		},
		Browser: BrowserConfig{
			Headless:            true,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
			DisableImages:       true,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			FinalPass:   true,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. The sink
// variables match the names the scheduled-job environment already exports.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramBotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.TelegramChatID = v
	}
	if v := os.Getenv("WECHAT_WEBHOOK_KEY"); v != "" {
		c.Notify.WeComKey = v
	}
	if v := os.Getenv("DINGTALK_WEBHOOK"); v != "" {
		c.Notify.DingTalkWebhook = v
	}
	if v := os.Getenv("PUSHPLUS_TOKEN"); v != "" {
		c.Notify.PushPlusToken = v
	}
	if v := os.Getenv("SERVERCHAN_SCKEY"); v != "" {
		c.Notify.ServerChanKey = v
	}
	if v := os.Getenv("COOLPUSH_SKEY"); v != "" {
		c.Notify.CoolPushKey = v
	}
	if v := os.Getenv("CUSTOM_WEBHOOK"); v != "" {
		c.Notify.CustomWebhook = v
	}
	if v := os.Getenv("JLC_CHROME_BIN"); v != "" {
		c.Browser.Bin = v
	}
}

// TaskTimeout returns the per-call HTTP timeout as a duration.
func (c *Config) TaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Task.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ParseAccounts builds the account list from the comma-separated username and
// password lists supplied on the command line. Blank entries are dropped; the
// two lists must end up the same length.
func ParseAccounts(usernames, passwords string) ([]result.Account, error) {
	users := splitList(usernames)
	pwds := splitList(passwords)

	if len(users) == 0 {
		return nil, fmt.Errorf("no accounts supplied")
	}
	if len(users) != len(pwds) {
		return nil, fmt.Errorf("account/password count mismatch: %d vs %d", len(users), len(pwds))
	}

	accounts := make([]result.Account, 0, len(users))
	for i := range users {
		accounts = append(accounts, result.Account{
			Index:    i + 1,
			Username: users[i],
			Password: pwds[i],
		})
	}
	return accounts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
