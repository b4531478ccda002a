// Package config loads the jtu configuration from YAML or TOML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/apeks827/JiraTasksUpdate/internal/adapters/jira"
	"github.com/apeks827/JiraTasksUpdate/internal/gateway"
	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/report"
)

// Config represents the main configuration
type Config struct {
	Version     string              `yaml:"version" toml:"version"`
	DryRun      bool                `yaml:"dry_run" toml:"dry_run"`
	Jira        *JiraConfig         `yaml:"jira" toml:"jira"`
	Telegram    *TelegramConfig     `yaml:"telegram" toml:"telegram"`
	Polling     *PollingConfig      `yaml:"polling" toml:"polling"`
	JiraSearch  *SearchConfig       `yaml:"jira_search" toml:"jira_search"`
	SkipRules   *SkipRulesConfig    `yaml:"skip_rules" toml:"skip_rules"`
	Assignee    *AssigneeConfig     `yaml:"assignee" toml:"assignee"`
	Cache       *CacheConfig        `yaml:"cache" toml:"cache"`
	Retry       *RetryConfig        `yaml:"retry" toml:"retry"`
	TimeControl *TimeControlConfig  `yaml:"time_control" toml:"time_control"`
	Gateway     *gateway.Config     `yaml:"gateway" toml:"gateway"`
	Auth        *gateway.AuthConfig `yaml:"auth" toml:"auth"`
	Logging     *logging.Config     `yaml:"logging" toml:"logging"`
	Reports     *ReportsConfig      `yaml:"reports" toml:"reports"`
	Features    *FeaturesConfig     `yaml:"features" toml:"features"`
}

// JiraConfig holds the tracker connection. An empty username selects
// bearer (personal access token) auth.
type JiraConfig struct {
	Server      string   `yaml:"server" toml:"server"`
	Platform    string   `yaml:"platform" toml:"platform"`
	Username    string   `yaml:"username" toml:"username"`
	TokenEnvVar string   `yaml:"token_env_var" toml:"token_env_var"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
}

// TelegramConfig holds the bot connection and chat routing.
type TelegramConfig struct {
	TokenEnvVar string `yaml:"token_env_var" toml:"token_env_var"`
	// MainChatID receives update notifications, and new-issue
	// notifications when no rotation is configured.
	MainChatID   int64   `yaml:"main_chat_id" toml:"main_chat_id"`
	AllowedIDs   []int64 `yaml:"allowed_ids" toml:"allowed_ids"`
	ReporterLink string  `yaml:"reporter_link" toml:"reporter_link"`
	SendRate     float64 `yaml:"send_rate" toml:"send_rate"`
	// NotifyLifecycle sends a message to allowed chats on start and stop.
	NotifyLifecycle bool `yaml:"notify_lifecycle" toml:"notify_lifecycle"`
}

// PollingConfig holds watch intervals.
type PollingConfig struct {
	NewIssuesInterval Duration `yaml:"new_issues_interval" toml:"new_issues_interval"`
	UpdatesInterval   Duration `yaml:"updates_interval" toml:"updates_interval"`
	Limit             int      `yaml:"limit" toml:"limit"`
}

// SearchConfig holds the JQL queries.
type SearchConfig struct {
	NewIssuesJQL     string `yaml:"new_issues_jql" toml:"new_issues_jql"`
	UpdatesJQL       string `yaml:"updates_jql" toml:"updates_jql"`
	MyIssuesJQL      string `yaml:"my_issues_jql" toml:"my_issues_jql"`
	RecentUpdatesJQL string `yaml:"recent_updates_jql" toml:"recent_updates_jql"`
}

// AssigneeConfig holds the assignment rotation.
type AssigneeConfig struct {
	Rotation     []RotationEntry `yaml:"rotation" toml:"rotation"`
	TransitionID string          `yaml:"transition_id" toml:"transition_id"`
}

// RotationEntry is one assignee and the chat notified for their issues.
type RotationEntry struct {
	Username     string `yaml:"username" toml:"username"`
	NotifyChatID int64  `yaml:"notify_chat_id" toml:"notify_chat_id"`
}

// CacheConfig holds processed-cache persistence and retention.
type CacheConfig struct {
	Path       string   `yaml:"path" toml:"path"`
	MaxAge     Duration `yaml:"max_age" toml:"max_age"`
	MaxEntries int      `yaml:"max_entries" toml:"max_entries"`
}

// RetryConfig holds backoff settings for fetches and dispatches.
type RetryConfig struct {
	Fetch    *RetryPolicy `yaml:"fetch" toml:"fetch"`
	Dispatch *RetryPolicy `yaml:"dispatch" toml:"dispatch"`
}

// RetryPolicy is one backoff setting.
type RetryPolicy struct {
	MaxAttempts int      `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay" toml:"max_delay"`
	Jitter      float64  `yaml:"jitter" toml:"jitter"`
}

// TimeControlConfig holds quiet hours.
type TimeControlConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	SleepHours []int  `yaml:"sleep_hours" toml:"sleep_hours"`
	Timezone   string `yaml:"timezone" toml:"timezone"`
}

// ReportsConfig holds report export settings.
type ReportsConfig struct {
	Dir    string `yaml:"dir" toml:"dir"`
	Format string `yaml:"format" toml:"format"`
	Top    int    `yaml:"top" toml:"top"`
}

// FeaturesConfig toggles the watches and the command bot.
type FeaturesConfig struct {
	MainLoop         bool `yaml:"main_loop" toml:"main_loop"`
	UpdatesWatcher   bool `yaml:"updates_watcher" toml:"updates_watcher"`
	TelegramCommands bool `yaml:"telegram_commands" toml:"telegram_commands"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Jira: &JiraConfig{
			Platform:    jira.PlatformServer,
			TokenEnvVar: "JIRA_TOKEN",
			Timeout:     Duration{30 * second},
		},
		Telegram: &TelegramConfig{
			TokenEnvVar: "TG_TOKEN",
			SendRate:    20,
		},
		Polling: &PollingConfig{
			NewIssuesInterval: Duration{10 * second},
			UpdatesInterval:   Duration{300 * second},
			Limit:             50,
		},
		JiraSearch: &SearchConfig{
			NewIssuesJQL:     `assignee is EMPTY AND statusCategory = "To Do" ORDER BY created ASC`,
			UpdatesJQL:       "updatedDate >= -6m AND key in watchedIssues() AND statusCategory != Done",
			MyIssuesJQL:      "assignee = currentUser() AND statusCategory != Done ORDER BY updated DESC",
			RecentUpdatesJQL: "updatedDate >= -4d AND key in watchedIssues() AND statusCategory != Done",
		},
		SkipRules: &SkipRulesConfig{},
		Assignee: &AssigneeConfig{
			TransitionID: "21",
		},
		Cache: &CacheConfig{
			Path:       filepath.Join(homeDir, ".jtu", "processed.db"),
			MaxAge:     Duration{24 * hour},
			MaxEntries: 10000,
		},
		Retry: &RetryConfig{
			Fetch:    &RetryPolicy{MaxAttempts: 3, BaseDelay: Duration{second}, MaxDelay: Duration{30 * second}, Jitter: 0.2},
			Dispatch: &RetryPolicy{MaxAttempts: 3, BaseDelay: Duration{second}, MaxDelay: Duration{30 * second}, Jitter: 0.2},
		},
		TimeControl: &TimeControlConfig{
			Enabled:    false,
			SleepHours: []int{23, 0, 1, 2, 3, 4, 5, 6, 7, 8},
			Timezone:   "Local",
		},
		Gateway: &gateway.Config{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9190,
		},
		Auth: &gateway.AuthConfig{
			Type: gateway.AuthTypeLocal,
		},
		Logging: logging.DefaultConfig(),
		Reports: &ReportsConfig{
			Dir:    "reports",
			Format: report.FormatMarkdown,
			Top:    5,
		},
		Features: &FeaturesConfig{
			MainLoop:         true,
			UpdatesWatcher:   true,
			TelegramCommands: true,
		},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	if isTOML(path) {
		err = toml.Unmarshal(expanded, config)
	} else {
		err = yaml.Unmarshal(expanded, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Cache != nil {
		config.Cache.Path = expandPath(config.Cache.Path)
	}
	if config.Reports != nil {
		config.Reports.Dir = expandPath(config.Reports.Dir)
	}
	if config.Logging != nil && config.Logging.Output != "stdout" && config.Logging.Output != "stderr" {
		config.Logging.Output = expandPath(config.Logging.Output)
	}
	return config, nil
}

// Save writes the configuration, as TOML for .toml paths and YAML otherwise.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(config)
	} else {
		data, err = yaml.Marshal(config)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".jtu", "config.yaml")
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// JiraToken reads the Jira token from the configured environment variable.
func (c *Config) JiraToken() (string, error) {
	return tokenFromEnv(c.Jira.TokenEnvVar, "JIRA_TOKEN", "Jira")
}

// TelegramToken reads the bot token from the configured environment
// variable.
func (c *Config) TelegramToken() (string, error) {
	return tokenFromEnv(c.Telegram.TokenEnvVar, "TG_TOKEN", "Telegram")
}

func tokenFromEnv(name, fallback, what string) (string, error) {
	if name == "" {
		name = fallback
	}
	token := os.Getenv(name)
	if token == "" {
		return "", fmt.Errorf("%s token not found in %s environment variable", what, name)
	}
	return token, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Jira == nil || c.Jira.Server == "" {
		return fmt.Errorf("jira.server is required")
	}
	u, err := url.Parse(c.Jira.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid jira.server: %q", c.Jira.Server)
	}
	if c.Jira.Platform != jira.PlatformServer && c.Jira.Platform != jira.PlatformCloud {
		return fmt.Errorf("invalid jira.platform: %q (want %q or %q)", c.Jira.Platform, jira.PlatformServer, jira.PlatformCloud)
	}

	features := c.Features
	if features == nil {
		features = &FeaturesConfig{}
	}
	if c.Polling == nil || c.JiraSearch == nil || c.Telegram == nil {
		return fmt.Errorf("polling, jira_search and telegram sections are required")
	}

	if features.MainLoop {
		if c.Polling.NewIssuesInterval.Duration <= 0 {
			return fmt.Errorf("polling.new_issues_interval must be positive")
		}
		if strings.TrimSpace(c.JiraSearch.NewIssuesJQL) == "" {
			return fmt.Errorf("jira_search.new_issues_jql is required when main_loop is enabled")
		}
		if (c.Assignee == nil || len(c.Assignee.Rotation) == 0) && c.Telegram.MainChatID == 0 {
			return fmt.Errorf("telegram.main_chat_id or assignee.rotation is required when main_loop is enabled")
		}
	}
	if features.UpdatesWatcher {
		if c.Polling.UpdatesInterval.Duration <= 0 {
			return fmt.Errorf("polling.updates_interval must be positive")
		}
		if strings.TrimSpace(c.JiraSearch.UpdatesJQL) == "" {
			return fmt.Errorf("jira_search.updates_jql is required when updates_watcher is enabled")
		}
		if c.Telegram.MainChatID == 0 {
			return fmt.Errorf("telegram.main_chat_id is required when updates_watcher is enabled")
		}
	}
	if c.Polling.Limit < 0 {
		return fmt.Errorf("polling.limit must not be negative")
	}
	if c.Telegram.SendRate < 0 {
		return fmt.Errorf("telegram.send_rate must not be negative")
	}

	if c.Assignee != nil {
		for i, a := range c.Assignee.Rotation {
			if a.Username == "" {
				return fmt.Errorf("assignee.rotation[%d].username is required", i)
			}
			if a.NotifyChatID == 0 {
				return fmt.Errorf("assignee.rotation[%d].notify_chat_id is required", i)
			}
		}
	}

	if c.Cache != nil {
		if c.Cache.MaxAge.Duration < 0 {
			return fmt.Errorf("cache.max_age must not be negative")
		}
		if c.Cache.MaxEntries < 0 {
			return fmt.Errorf("cache.max_entries must not be negative")
		}
	}

	if c.Retry != nil {
		for name, p := range map[string]*RetryPolicy{"fetch": c.Retry.Fetch, "dispatch": c.Retry.Dispatch} {
			if p == nil {
				continue
			}
			if p.MaxAttempts < 1 {
				return fmt.Errorf("retry.%s.max_attempts must be at least 1", name)
			}
			if p.Jitter < 0 || p.Jitter > 1 {
				return fmt.Errorf("retry.%s.jitter must be between 0 and 1", name)
			}
		}
	}

	if c.TimeControl != nil {
		if _, err := c.TimeControl.Pipeline(); err != nil {
			return err
		}
	}

	if c.Gateway != nil && c.Gateway.Enabled {
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
		}
		if c.Auth != nil && c.Auth.Type == gateway.AuthTypeAPIToken && c.Auth.Token == "" {
			return fmt.Errorf("API token is required when auth type is api-token")
		}
	}

	if c.Reports != nil {
		switch c.Reports.Format {
		case report.FormatMarkdown, report.FormatCSV, report.FormatHTML:
		default:
			return fmt.Errorf("invalid reports.format: %q", c.Reports.Format)
		}
	}
	return nil
}
