// Package config loads the YAML settings an Output is created from: which
// tracks it carries, reconnect backoff parameters, and delay buffer
// configuration (an Output's reconnect/delay/track attributes), using
// structured gopkg.in/yaml.v3 decoding instead of hand-rolled key=value
// parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level settings document: one entry per output to
// create at startup.
type Config struct {
	Outputs []OutputConfig `yaml:"outputs"`
}

// OutputConfig mirrors output.Settings in YAML-friendly form (plain
// durations/seconds instead of encoder/service handles, which are resolved
// against a registry at wiring time, not parsed from the file).
type OutputConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	HasVideo bool `yaml:"has_video"`
	HasAudio bool `yaml:"has_audio"`
	CanPause bool `yaml:"can_pause"`

	MixerMask uint8 `yaml:"mixer_mask"`
	MultiMix  bool  `yaml:"multi_mix"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Delay     DelayConfig     `yaml:"delay"`

	FrameIntervalMs float64 `yaml:"frame_interval_ms"`
}

// ReconnectConfig holds the reconnect backoff parameters for one output.
type ReconnectConfig struct {
	MaxRetries int     `yaml:"max_retries"`
	BaseSec    float64 `yaml:"base_sec"`
	Exponent   float64 `yaml:"exponent"`
	CapSec     float64 `yaml:"cap_sec"`
}

// DefaultReconnect returns the baseline backoff: exponent 1.5 (jitter is
// added at runtime by pkg/reconnect), capped at 15 minutes.
func DefaultReconnect() ReconnectConfig {
	return ReconnectConfig{MaxRetries: 3, BaseSec: 2, Exponent: 1.5, CapSec: 900}
}

// DelayConfig holds the delay-buffer configuration for one output.
type DelayConfig struct {
	Seconds float64 `yaml:"seconds"`
	Preserve bool   `yaml:"preserve"`
}

// Load reads and parses a YAML settings file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and normalizes zero-valued reconnect
// settings to the baseline defaults, so a config file can omit the section
// entirely and still get sane retry behavior.
func (c *Config) Validate() error {
	if len(c.Outputs) == 0 {
		return fmt.Errorf("config must declare at least one output")
	}
	seen := make(map[string]bool, len(c.Outputs))
	for i := range c.Outputs {
		o := &c.Outputs[i]
		if o.ID == "" {
			return fmt.Errorf("output %d: missing id", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("output %d: duplicate id %q", i, o.ID)
		}
		seen[o.ID] = true

		if !o.HasVideo && !o.HasAudio {
			return fmt.Errorf("output %q: must carry video, audio, or both", o.ID)
		}
		if o.Reconnect == (ReconnectConfig{}) {
			o.Reconnect = DefaultReconnect()
		}
	}
	return nil
}

// Base returns BaseSec as a time.Duration, for callers that want
// it pre-converted.
func (r ReconnectConfig) Base() time.Duration {
	return time.Duration(r.BaseSec * float64(time.Second))
}
