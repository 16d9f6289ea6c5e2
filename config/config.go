package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Outbound notification settings (hot-reloadable via the page bridge)
	Notify NotifyConfig `json:"notify"`

	// Page feed bridge server
	Feed FeedConfig `json:"feed"`

	// State persistence
	Store StoreConfig `json:"store"`

	// Screenshot capture
	Screenshot ScreenshotConfig `json:"screenshot"`
}

// NotifyConfig holds the user-facing notification settings. These mirror the
// persisted settings keys and can be updated at runtime by the settings
// collaborator.
type NotifyConfig struct {
	WebhookURL          string `json:"webhook_url"`
	EnableNotifications bool   `json:"enable_notifications"`
	EnableScreenshots   bool   `json:"enable_screenshots"`
	IncludeSymbol       bool   `json:"include_symbol"`
	IncludeTime         bool   `json:"include_time"`
}

// FeedConfig holds the websocket bridge server configuration.
type FeedConfig struct {
	ListenAddr string `json:"listen_addr"`
	Path       string `json:"path"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path         string        `json:"path"`
	SaveInterval time.Duration `json:"save_interval"`
}

// ScreenshotConfig holds screenshot capture configuration.
type ScreenshotConfig struct {
	SettleDelay    time.Duration `json:"settle_delay"`    // pause before capture to let the page settle
	CaptureTimeout time.Duration `json:"capture_timeout"` // max wait for a bridge capture response
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Notify: NotifyConfig{
			WebhookURL:          "",
			EnableNotifications: true,
			EnableScreenshots:   false,
			IncludeSymbol:       false,
			IncludeTime:         false,
		},
		Feed: FeedConfig{
			ListenAddr: ":8571",
			Path:       "/feed",
		},
		Store: StoreConfig{
			Path:         "tvhook.db",
			SaveInterval: 30 * time.Second,
		},
		Screenshot: ScreenshotConfig{
			SettleDelay:    500 * time.Millisecond,
			CaptureTimeout: 10 * time.Second,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Notify: NotifyConfig{
			WebhookURL:          envString("WEBHOOK_URL", ""),
			EnableNotifications: envBoolDefault("ENABLE_NOTIFICATIONS", true),
			EnableScreenshots:   envBoolDefault("ENABLE_SCREENSHOTS", false),
			IncludeSymbol:       envBoolDefault("INCLUDE_SYMBOL", false),
			IncludeTime:         envBoolDefault("INCLUDE_TIME", false),
		},

		Feed: FeedConfig{
			ListenAddr: envString("FEED_LISTEN_ADDR", ":8571"),
			Path:       envString("FEED_PATH", "/feed"),
		},

		Store: StoreConfig{
			Path:         envString("STORE_PATH", "tvhook.db"),
			SaveInterval: envDuration("STORE_SAVE_INTERVAL", 30*time.Second),
		},

		Screenshot: ScreenshotConfig{
			SettleDelay:    envDuration("SCREENSHOT_SETTLE_DELAY", 500*time.Millisecond),
			CaptureTimeout: envDuration("SCREENSHOT_CAPTURE_TIMEOUT", 10*time.Second),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
