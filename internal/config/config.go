package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"ipwatch/internal/logger"
	"ipwatch/internal/utils"
)

// AppName is used for default config, cache and state locations
const AppName = "ipwatch"

const (
	// DefaultTryCount is the total lookup attempts across the server list
	DefaultTryCount = 10

	// DefaultBlacklist filters private ranges that lookup services behind
	// misconfigured proxies occasionally echo back
	DefaultBlacklist = "192.168.*.*,10.*.*.*"

	// DefaultRegistryURL is the canonical remote server list
	DefaultRegistryURL = "https://raw.githubusercontent.com/begleysm/ipwatch/master/servers.json"

	// DefaultRegistryMaxAge is the staleness threshold for the cached
	// server list
	DefaultRegistryMaxAge = 90 * 24 * time.Hour

	// DefaultLookupTimeout bounds each request to a lookup service
	DefaultLookupTimeout = 5 * time.Second
)

// Config represents the application configuration
type Config struct {
	Machine       string        `mapstructure:"machine" validate:"required"`      // display name of this machine
	ReceiverEmail string        `mapstructure:"receiver_email"`                   // comma-separated recipient list
	TryCount      int           `mapstructure:"try_count" validate:"gte=1"`       // total lookup attempts
	IPBlacklist   string        `mapstructure:"ip_blacklist"`                     // comma-separated glob patterns
	SaveIPPath    string        `mapstructure:"save_ip_path" validate:"required"` // last known IP state file
	Repeat        int           `mapstructure:"repeat" validate:"gte=0"`          // seconds between checks, 0 = run once
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" validate:"gt=0"`   // per-request timeout for lookups

	Registry RegistryConfig `mapstructure:"registry"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	History  HistoryConfig  `mapstructure:"history"`
	API      APIConfig      `mapstructure:"api"`
	Log      logger.Config  `mapstructure:"log"`
}

// RegistryConfig represents the server registry configuration
type RegistryConfig struct {
	RemoteURL string        `mapstructure:"remote_url" validate:"required,url"` // canonical server list
	CacheFile string        `mapstructure:"cache_file" validate:"required"`
	MaxAge    time.Duration `mapstructure:"max_age" validate:"gt=0"` // staleness threshold
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"` // remote fetch timeout
}

// NotifyConfig represents notification configuration
type NotifyConfig struct {
	// SkipFirstRun suppresses the notification that would otherwise be
	// sent when no saved state exists yet
	SkipFirstRun bool `mapstructure:"skip_first_run"`

	Email    *EmailConfig    `mapstructure:"email"`
	Webhook  *WebhookConfig  `mapstructure:"webhook"`
	Telegram *TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig represents the email notification configuration
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Mode       string   `mapstructure:"mode" validate:"omitempty,oneof=smtp command"` // smtp or command
	SMTPServer string   `mapstructure:"smtp_server"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from" validate:"omitempty,email"`
	To         []string `mapstructure:"to" validate:"omitempty,dive,email"`
	UseTLS     bool     `mapstructure:"use_tls"`
	Command    string   `mapstructure:"command"` // sendmail-compatible local mail command
}

// WebhookConfig represents the webhook notification configuration
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Secret  string        `mapstructure:"secret"` // HMAC signing key
	Timeout time.Duration `mapstructure:"timeout"`
}

// TelegramConfig represents the telegram notification configuration
type TelegramConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
}

// HistoryConfig represents the optional IP change history database
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver" validate:"omitempty,oneof=sqlite mysql postgres"`
	DSN     string `mapstructure:"dsn"`
}

// APIConfig represents the optional local status endpoint
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// Load reads the configuration file. When path is empty the usual config
// locations are searched; a missing file is then not an error and the
// defaults apply (CLI flags may still fill required fields). Validation
// runs separately via Validate so flag overrides can be applied first.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + AppName)
		v.AddConfigPath("/etc/" + AppName)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.SetDefaults()

	return &config, nil
}

// SetDefaults sets default values if not specified
func (c *Config) SetDefaults() {
	if c.TryCount == 0 {
		c.TryCount = DefaultTryCount
	}
	if c.IPBlacklist == "" {
		c.IPBlacklist = DefaultBlacklist
	}
	if c.SaveIPPath == "" {
		c.SaveIPPath = filepath.Join(cacheDir(), "saved_ip.txt")
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}

	if c.Registry.RemoteURL == "" {
		c.Registry.RemoteURL = DefaultRegistryURL
	}
	if c.Registry.CacheFile == "" {
		c.Registry.CacheFile = filepath.Join(cacheDir(), "servers.json")
	}
	if c.Registry.MaxAge == 0 {
		c.Registry.MaxAge = DefaultRegistryMaxAge
	}
	if c.Registry.Timeout == 0 {
		c.Registry.Timeout = 10 * time.Second
	}

	if c.Notify.Email != nil {
		if c.Notify.Email.Mode == "" {
			c.Notify.Email.Mode = "smtp"
		}
		if c.Notify.Email.SMTPPort == 0 {
			c.Notify.Email.SMTPPort = 25
		}
		if c.Notify.Email.Command == "" {
			c.Notify.Email.Command = "/usr/bin/mail"
		}
	}
	if c.Notify.Webhook != nil && c.Notify.Webhook.Timeout == 0 {
		c.Notify.Webhook.Timeout = 10 * time.Second
	}

	if c.History.Driver == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.DSN == "" && c.History.Driver == "sqlite" {
		c.History.DSN = filepath.Join(cacheDir(), "history.db")
	}

	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8180"
	}

	c.Log.SetDefaults()
}

// BlacklistPatterns returns the parsed blacklist pattern list
func (c *Config) BlacklistPatterns() []string {
	return utils.SplitList(c.IPBlacklist)
}

// Receivers returns the parsed recipient list
func (c *Config) Receivers() []string {
	return utils.SplitList(c.ReceiverEmail)
}

// Validate validates the configuration. Must run after CLI overrides have
// been applied.
func (c *Config) Validate() error {
	// Fold the flat receiver_email option into the email notifier before
	// structural validation sees it.
	if c.Notify.Email != nil && c.Notify.Email.Enabled && len(c.Notify.Email.To) == 0 {
		c.Notify.Email.To = c.Receivers()
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for _, pattern := range c.BlacklistPatterns() {
		if _, err := filepath.Match(pattern, "0.0.0.0"); err != nil {
			return fmt.Errorf("invalid ip_blacklist pattern %q: %w", pattern, err)
		}
	}

	if email := c.Notify.Email; email != nil && email.Enabled {
		if len(email.To) == 0 {
			return fmt.Errorf("receiver_email is required when email notifications are enabled")
		}
		if email.Mode == "smtp" && (email.SMTPServer == "" || email.From == "") {
			return fmt.Errorf("smtp_server and from are required for smtp mail delivery")
		}
	}

	if webhook := c.Notify.Webhook; webhook != nil && webhook.Enabled && webhook.URL == "" {
		return fmt.Errorf("webhook url is required when webhook notifications are enabled")
	}

	if telegram := c.Notify.Telegram; telegram != nil && telegram.Enabled {
		if telegram.BotToken == "" || len(telegram.ChatIDs) == 0 {
			return fmt.Errorf("bot_token and chat_ids are required when telegram notifications are enabled")
		}
	}

	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history dsn is required when history is enabled")
	}

	if err := c.Log.Validate(); err != nil {
		return err
	}

	return nil
}

// cacheDir returns the per-user cache directory for state and cache files
func cacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(dir, AppName)
}
