// Package config handles loading of the fapiao CLI configuration.
//
// Priority: environment (FAPIAO_*) > config file > defaults. A .env file
// in the working directory is loaded first when present.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName is used for XDG paths, keyring service names, and env prefixes.
const AppName = "fapiao"

// Config is the resolved CLI configuration.
type Config struct {
	// Auth configures the OAuth client. Empty endpoint fields fall back
	// to the Qwen production defaults.
	Auth AuthConfig `mapstructure:"auth"`
	// Storage selects the credential backend (file, keyring, memory).
	Storage StorageConfig `mapstructure:"storage"`
	// Retry applies to all auth and dispatch network calls.
	Retry RetryConfig `mapstructure:"retry"`
	// Model is the vision model used for invoice extraction.
	Model string `mapstructure:"model"`
	// ConvertURL is the base URL of the PDF-to-image conversion service.
	ConvertURL string `mapstructure:"convert_url"`
	// WorkDir receives converted images. Defaults to a cache directory.
	WorkDir string `mapstructure:"work_dir"`
	// Rules are boolean expressions evaluated against each extracted
	// invoice, e.g. "Total == Amount + Tax".
	Rules []string `mapstructure:"rules"`
	// Template is an optional path to a report template override.
	Template string `mapstructure:"template"`
}

// AuthConfig holds OAuth endpoint and client settings.
type AuthConfig struct {
	ClientID      string `mapstructure:"client_id"`
	Scope         string `mapstructure:"scope"`
	DeviceAuthURL string `mapstructure:"device_auth_url"`
	TokenURL      string `mapstructure:"token_url"`
	BaseURL       string `mapstructure:"base_url"`
}

// StorageConfig selects the credential storage backend.
type StorageConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// RetryConfig holds the retry policy knobs.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// Load reads configuration from the given file path, or from the default
// XDG location when path is empty.
func Load(path string) (*Config, error) {
	// Optional .env for local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("storage.type", "file")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("model", "qwen-vl-max")
	v.SetDefault("work_dir", filepath.Join(xdg.CacheHome, AppName, "images"))

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
		// Missing default config is fine; defaults and env apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "file", "keyring", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}

	return nil
}
