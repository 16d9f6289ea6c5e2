package config

import (
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateNotify(&c.Notify)...)
	errors = append(errors, validateFeed(&c.Feed)...)
	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateScreenshot(&c.Screenshot)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateNotify(n *NotifyConfig) []ValidationError {
	var errors []ValidationError

	// An empty webhook URL is allowed; dispatch suppresses delivery instead.
	if n.WebhookURL != "" {
		u, err := url.Parse(n.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "notify.webhook_url",
				Message: "must be an http(s) URL",
			})
		}
	}

	return errors
}

func validateFeed(f *FeedConfig) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(f.ListenAddr) == "" {
		errors = append(errors, ValidationError{
			Field:   "feed.listen_addr",
			Message: "must not be empty",
		})
	}

	if !strings.HasPrefix(f.Path, "/") {
		errors = append(errors, ValidationError{
			Field:   "feed.path",
			Message: "must start with /",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(s.Path) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.path",
			Message: "must not be empty",
		})
	}

	if s.SaveInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "store.save_interval",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateScreenshot(s *ScreenshotConfig) []ValidationError {
	var errors []ValidationError

	if s.SettleDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "screenshot.settle_delay",
			Message: "must be non-negative",
		})
	}

	if s.CaptureTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "screenshot.capture_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}
