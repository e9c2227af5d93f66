package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Hotkey != DefaultHotkey {
		t.Errorf("Hotkey = %q, want %q", cfg.Hotkey, DefaultHotkey)
	}
	if cfg.HookRetryLimit != DefaultHookRetryLimit {
		t.Errorf("HookRetryLimit = %d, want %d", cfg.HookRetryLimit, DefaultHookRetryLimit)
	}
	if cfg.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, DefaultSampleRate)
	}
}

// Configs written by older versions omit fields added later; they must
// still load, with absent fields defaulted and unknown fields ignored.
func TestLoadFromForwardCompatible(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "older version without queue settings",
			data: `{"hotkey": "ctrl+alt+v", "sample_rate": 48000}`,
		},
		{
			name: "newer version with unknown fields",
			data: `{"hotkey": "ctrl+alt+v", "sample_rate": 48000, "future_feature": {"x": 1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := LoadFrom(path)
			if err != nil {
				t.Fatalf("LoadFrom: %v", err)
			}
			if cfg.Hotkey != "ctrl+alt+v" {
				t.Errorf("Hotkey = %q, want %q", cfg.Hotkey, "ctrl+alt+v")
			}
			if cfg.SampleRate != 48000 {
				t.Errorf("SampleRate = %d, want 48000", cfg.SampleRate)
			}
			if cfg.QueueSize != DefaultQueueSize {
				t.Errorf("QueueSize = %d, want default %d", cfg.QueueSize, DefaultQueueSize)
			}
			if cfg.ModelSize != DefaultModelSize {
				t.Errorf("ModelSize = %q, want default %q", cfg.ModelSize, DefaultModelSize)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{}
	if got := cfg.SettleDelay(); got != DefaultSettleDelay {
		t.Errorf("SettleDelay() = %v, want %v", got, DefaultSettleDelay)
	}
	if got := cfg.RewriteTimeout(); got != DefaultRewriteTimeout {
		t.Errorf("RewriteTimeout() = %v, want %v", got, DefaultRewriteTimeout)
	}

	cfg = &Config{SettleDelayMS: 250, RewriteTimeoutSec: 10}
	if got := cfg.SettleDelay(); got != 250*time.Millisecond {
		t.Errorf("SettleDelay() = %v, want 250ms", got)
	}
	if got := cfg.RewriteTimeout(); got != 10*time.Second {
		t.Errorf("RewriteTimeout() = %v, want 10s", got)
	}
}
