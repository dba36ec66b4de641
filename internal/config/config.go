// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for the durable dismissal store.
// Uses ~/.pwa-lifecycle/ so data is in a fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./store"
	}
	return filepath.Join(home, ".pwa-lifecycle")
}

// Config holds all configuration for the lifecycle coordinator and its host shell.
type Config struct {
	// Persistence
	StorePath           string        `mapstructure:"store_path"`
	SessionTTL          time.Duration `mapstructure:"session_ttl"`
	PermanentDismissKey string        `mapstructure:"permanent_dismiss_key"`
	SessionDismissKey   string        `mapstructure:"session_dismiss_key"`

	// Installability
	InstallGracePeriod  time.Duration `mapstructure:"install_grace_period"`
	FloatingButtonDelay time.Duration `mapstructure:"floating_button_delay"`

	// Background-update worker
	WorkerScriptURL        string        `mapstructure:"worker_script_url"`
	WorkerScope            string        `mapstructure:"worker_scope"`
	ReloadDelay            time.Duration `mapstructure:"reload_delay"`
	UpdateCheckInterval    time.Duration `mapstructure:"update_check_interval"`
	RegistrationMaxRetries int           `mapstructure:"registration_max_retries"`
	RegistrationBaseDelay  time.Duration `mapstructure:"registration_base_delay"`
	RegistrationMaxDelay   time.Duration `mapstructure:"registration_max_delay"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StorePath:              filepath.Join(defaultDataDir(), "prefs.db"),
		SessionTTL:             0,
		PermanentDismissKey:    "pwa-install-dismissed",
		SessionDismissKey:      "pwa-floating-install-dismissed",
		InstallGracePeriod:     3 * time.Second,
		FloatingButtonDelay:    10 * time.Second,
		WorkerScriptURL:        "/sw.js",
		WorkerScope:            "/",
		ReloadDelay:            0,
		UpdateCheckInterval:    0,
		RegistrationMaxRetries: 2,
		RegistrationBaseDelay:  1 * time.Second,
		RegistrationMaxDelay:   30 * time.Second,
		LogLevel:               "info",
		LogFormat:              "json",
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("session_ttl", defaults.SessionTTL)
	v.SetDefault("permanent_dismiss_key", defaults.PermanentDismissKey)
	v.SetDefault("session_dismiss_key", defaults.SessionDismissKey)
	v.SetDefault("install_grace_period", defaults.InstallGracePeriod)
	v.SetDefault("floating_button_delay", defaults.FloatingButtonDelay)
	v.SetDefault("worker_script_url", defaults.WorkerScriptURL)
	v.SetDefault("worker_scope", defaults.WorkerScope)
	v.SetDefault("reload_delay", defaults.ReloadDelay)
	v.SetDefault("update_check_interval", defaults.UpdateCheckInterval)
	v.SetDefault("registration_max_retries", defaults.RegistrationMaxRetries)
	v.SetDefault("registration_base_delay", defaults.RegistrationBaseDelay)
	v.SetDefault("registration_max_delay", defaults.RegistrationMaxDelay)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with PWALC_ prefix
	v.SetEnvPrefix("PWALC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config.yaml is fine; an unreadable explicit one is not.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if c.PermanentDismissKey == "" || c.SessionDismissKey == "" {
		return fmt.Errorf("dismissal keys must not be empty")
	}

	if c.PermanentDismissKey == c.SessionDismissKey {
		return fmt.Errorf("permanent and session dismissal keys must differ")
	}

	durations := map[string]time.Duration{
		"session ttl":           c.SessionTTL,
		"install grace period":  c.InstallGracePeriod,
		"floating button delay": c.FloatingButtonDelay,
		"reload delay":          c.ReloadDelay,
		"update check interval": c.UpdateCheckInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}

	if c.WorkerScriptURL == "" {
		return fmt.Errorf("worker script url must not be empty")
	}

	if c.RegistrationMaxRetries < 0 {
		return fmt.Errorf("registration max retries must be non-negative")
	}

	if c.RegistrationBaseDelay <= 0 {
		return fmt.Errorf("registration base delay must be positive")
	}

	if c.RegistrationMaxDelay <= 0 {
		return fmt.Errorf("registration max delay must be positive")
	}

	if c.RegistrationBaseDelay > c.RegistrationMaxDelay {
		return fmt.Errorf("registration base delay must be less than or equal to max delay")
	}

	return nil
}
