// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.nanao.dev/voicekey/internal/types"
)

const (
	appName        = "voicekey"
	configFileName = "config.json"
)

// Config represents the application configuration.
//
// Loading is forward compatible: unknown fields are ignored and absent
// fields fall back to defaults, so configs written by older or newer
// versions load without error.
type Config struct {
	// Hotkey is the key combination that starts/stops a recording,
	// e.g. "ctrl+shift+space".
	Hotkey string `json:"hotkey,omitempty"`

	// HookRetryLimit is the number of consecutive re-arm failures
	// tolerated before the hook is reported as permanently failed.
	HookRetryLimit int `json:"hook_retry_limit,omitempty"`

	// SampleRate for microphone capture in Hz.
	SampleRate int `json:"sample_rate,omitempty"`

	// QueueSize is the capacity of the audio buffer queue.
	QueueSize int `json:"queue_size,omitempty"`

	// SettleDelayMS is the wait after a synthetic paste before the
	// clipboard is restored, in milliseconds.
	SettleDelayMS int `json:"settle_delay_ms,omitempty"`

	// ModelDir is where imported speech models are stored. Empty means
	// the managed default under the user config directory.
	ModelDir string `json:"model_dir,omitempty"`

	// ModelSize selects the local whisper model ("tiny" .. "large").
	ModelSize string `json:"model_size,omitempty"`

	// RewriteEnabled toggles the LLM rewrite step after transcription.
	RewriteEnabled bool `json:"rewrite_enabled"`

	// RewriteTimeoutSec bounds each rewrite call, in seconds.
	RewriteTimeoutSec int `json:"rewrite_timeout_sec,omitempty"`

	// Providers are the configured LLM rewrite providers.
	Providers []types.Provider `json:"providers,omitempty"`
}

// Defaults applied by Load when fields are absent.
const (
	DefaultHotkey         = "ctrl+shift+space"
	DefaultHookRetryLimit = 3
	DefaultSampleRate     = 16000
	DefaultQueueSize      = 32
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultRewriteTimeout = 30 * time.Second
	DefaultModelSize      = "base"
)

// Load loads configuration from the config file.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFrom(path)
}

// LoadFrom loads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SettleDelay returns the configured clipboard settle delay.
func (c *Config) SettleDelay() time.Duration {
	if c.SettleDelayMS <= 0 {
		return DefaultSettleDelay
	}
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// RewriteTimeout returns the configured rewrite call deadline.
func (c *Config) RewriteTimeout() time.Duration {
	if c.RewriteTimeoutSec <= 0 {
		return DefaultRewriteTimeout
	}
	return time.Duration(c.RewriteTimeoutSec) * time.Second
}

// ModelDirectory returns the managed model storage directory.
func (c *Config) ModelDirectory() (string, error) {
	if c.ModelDir != "" {
		return c.ModelDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "models"), nil
}

// AddProvider adds a new provider.
func (c *Config) AddProvider(p types.Provider) error {
	if err := validateProvider(p); err != nil {
		return err
	}
	applyProviderDefaults(&p)

	// First provider or explicitly active: deactivate others
	if len(c.Providers) == 0 || p.Active {
		for i := range c.Providers {
			c.Providers[i].Active = false
		}
		p.Active = true
	}

	c.Providers = append(c.Providers, p)
	return c.Save()
}

// RemoveProvider removes a provider.
func (c *Config) RemoveProvider(name string) error {
	idx := slices.IndexFunc(c.Providers, func(p types.Provider) bool {
		return p.Name == name
	})
	if idx == -1 {
		return fmt.Errorf("provider not found: %s", name)
	}

	wasActive := c.Providers[idx].Active
	c.Providers = slices.Delete(c.Providers, idx, idx+1)

	if wasActive && len(c.Providers) > 0 {
		c.Providers[0].Active = true
	}

	return c.Save()
}

// SetProviderActive checks if provider exists and sets it active.
func (c *Config) SetProviderActive(name string) error {
	found := false
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			c.Providers[i].Active = true
			found = true
		} else {
			c.Providers[i].Active = false
		}
	}
	if !found {
		return fmt.Errorf("provider not found: %s", name)
	}
	return c.Save()
}

// GetActiveProvider returns the currently active provider, or nil.
func (c *Config) GetActiveProvider() *types.Provider {
	for i := range c.Providers {
		if c.Providers[i].Active {
			p := c.Providers[i]
			return &p
		}
	}
	return nil
}

// Helper functions

func (c *Config) applyDefaults() {
	if c.Hotkey == "" {
		c.Hotkey = DefaultHotkey
	}
	if c.HookRetryLimit <= 0 {
		c.HookRetryLimit = DefaultHookRetryLimit
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ModelSize == "" {
		c.ModelSize = DefaultModelSize
	}
}

func validateProvider(p types.Provider) error {
	if p.Name == "" {
		return fmt.Errorf("provider name required")
	}
	if p.APIKey == "" {
		return fmt.Errorf("api key required")
	}
	if p.Model == "" {
		return fmt.Errorf("model required")
	}
	if p.Type == "openai-compatible" && p.BaseURL == "" {
		return fmt.Errorf("base url required for openai-compatible")
	}
	return nil
}

func applyProviderDefaults(p *types.Provider) {
	if p.MaxTokens == 0 {
		p.MaxTokens = types.DefaultMaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = types.DefaultTemperature
	}
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
