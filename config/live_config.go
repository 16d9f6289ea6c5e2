package config

import (
	"sync"
	"time"
)

// ConfigObserver is an interface for components that need to be notified of config changes.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig is a thread-safe wrapper around Config that supports hot-reload.
// The page bridge applies settings changes through it at runtime.
type LiveConfig struct {
	mu        sync.RWMutex
	config    *Config
	observers []ConfigObserver
	obsMu     sync.RWMutex

	// Track when config was last updated
	lastUpdated time.Time
}

// NewLiveConfig creates a new LiveConfig with the given initial config.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		observers:   make([]ConfigObserver, 0),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
// This is safe to call from multiple goroutines.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Update atomically updates the config after validation.
// Returns an error if validation fails.
// Notifies all observers of the change.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Notify observers (outside of lock to avoid deadlocks)
	lc.notifyObservers(cloned)

	return nil
}

// UpdatePartial updates specific fields of the config.
// Takes a function that modifies the config in place.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	lc.mu.Lock()
	newConfig := lc.config.Clone()
	lc.mu.Unlock()

	updateFn(newConfig)

	return lc.Update(newConfig)
}

// AddObserver registers an observer to be notified of config changes.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// notifyObservers notifies all registered observers of a config change.
func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		// Clone for each observer to prevent mutations
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when the config was last updated.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
