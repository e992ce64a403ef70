// Package config owns flora configuration from .flora/config.json.
// This is the single source of truth for the Gemini credential, model
// selection, and logging settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UserConfig holds ALL flora configuration from .flora/config.json.
type UserConfig struct {
	// =========================================================================
	// PROVIDER CONFIGURATION
	// =========================================================================

	// GeminiAPIKey is the user-supplied credential. It is first in the
	// failover pool, ahead of the environment key and fallbacks.
	GeminiAPIKey string `json:"gemini_api_key,omitempty"`

	// FallbackAPIKeys are tried, in order, after the user and environment
	// keys when a quota or server error occurs.
	FallbackAPIKeys []string `json:"fallback_api_keys,omitempty"`

	// ImageModel overrides the image-generation model.
	ImageModel string `json:"image_model,omitempty"`

	// TextModel overrides the model used for analysis/pose/enhancement
	// sub-calls.
	TextModel string `json:"text_model,omitempty"`

	// RequestTimeoutSec bounds every provider call, sub-calls included.
	RequestTimeoutSec int `json:"request_timeout_sec,omitempty"`

	// =========================================================================
	// SEED
	// =========================================================================

	// SeedPrompt is the prompt of the initial seed node.
	SeedPrompt string `json:"seed_prompt,omitempty"`

	// SeedImage is an optional data URL or fetchable URL for the initial
	// seed image. Empty means the seed starts unrendered.
	SeedImage string `json:"seed_image,omitempty"`

	// =========================================================================
	// LOGGING
	// =========================================================================

	Logging *LoggingConfig `json:"logging,omitempty"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
}

const (
	defaultImageModel = "gemini-2.5-flash-image"
	defaultTextModel  = "gemini-2.5-flash"
	defaultSeedPrompt = "Full-body studio portrait of a fashion model in a tailored charcoal suit, neutral backdrop, soft key light"
)

// GetImageModel returns the image model with defaults applied.
func (c *UserConfig) GetImageModel() string {
	if c != nil && c.ImageModel != "" {
		return c.ImageModel
	}
	return defaultImageModel
}

// GetTextModel returns the text model with defaults applied.
func (c *UserConfig) GetTextModel() string {
	if c != nil && c.TextModel != "" {
		return c.TextModel
	}
	return defaultTextModel
}

// GetRequestTimeoutSec returns the per-call timeout with defaults applied.
func (c *UserConfig) GetRequestTimeoutSec() int {
	if c != nil && c.RequestTimeoutSec > 0 {
		return c.RequestTimeoutSec
	}
	return 60
}

// GetSeedPrompt returns the initial seed prompt with defaults applied.
func (c *UserConfig) GetSeedPrompt() string {
	if c != nil && c.SeedPrompt != "" {
		return c.SeedPrompt
	}
	return defaultSeedPrompt
}

// GetLogging returns logging settings with defaults.
func (c *UserConfig) GetLogging() LoggingConfig {
	if c != nil && c.Logging != nil {
		cfg := *c.Logging
		if cfg.Level == "" {
			cfg.Level = "info"
		}
		return cfg
	}
	return LoggingConfig{Level: "info"}
}

// GetGeminiAPIKey returns the user credential with auto-detection.
// Priority order:
//  1. UserConfig.GeminiAPIKey from .flora/config.json
//  2. GEMINI_API_KEY environment variable
//
// Returns empty string if not configured; the app then runs in reduced
// capability mode (canvas works, generation fails fast).
func (c *UserConfig) GetGeminiAPIKey() string {
	if c != nil && c.GeminiAPIKey != "" {
		return c.GeminiAPIKey
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return ""
}

// EnvironmentAPIKey returns the credential from the environment, if any.
// The failover pool places this after the user key.
func EnvironmentAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

// DefaultUserConfigPath returns the default path to .flora/config.json.
func DefaultUserConfigPath() string {
	root, err := FindWorkspaceRoot()
	if err != nil {
		return filepath.Join(".flora", "config.json")
	}
	return filepath.Join(root, ".flora", "config.json")
}

// FindWorkspaceRoot attempts to find the project root by looking for .flora.
// If not found, returns the current working directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".flora")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}

// LoadUserConfig loads configuration from .flora/config.json.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := &UserConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return empty config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to the given path, creating the directory.
func (c *UserConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}

	return nil
}

// GlobalConfig is a convenience function to load config from the default path.
// Returns an empty config (with defaults available via Get* methods) if the
// file doesn't exist.
func GlobalConfig() (*UserConfig, error) {
	return LoadUserConfig(DefaultUserConfigPath())
}
