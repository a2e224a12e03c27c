package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Synthesis service settings
	TTS struct {
		BaseURL   string        `yaml:"base_url"`
		Model     string        `yaml:"model"`
		Voice     string        `yaml:"voice"`
		Format    string        `yaml:"format"`
		ChunkSize int           `yaml:"chunk_size"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"tts"`

	// Playback settings
	Playback struct {
		Rate         float64 `yaml:"rate"`
		SampleRate   uint32  `yaml:"sample_rate"`
		BufferMS     int     `yaml:"buffer_ms"`
		PeriodFrames uint32  `yaml:"period_frames"`
		Device       string  `yaml:"device"`
		StopHotkey   string  `yaml:"stop_hotkey"`
	} `yaml:"playback"`

	// Output settings
	Output struct {
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"output"`

	// Log settings
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	// Metrics settings
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	// Trace settings
	Trace struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"trace"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Synthesis defaults
	cfg.TTS.BaseURL = "https://api.openai.com/v1"
	cfg.TTS.Model = "tts-1"
	cfg.TTS.Voice = "alloy"
	cfg.TTS.Format = "pcm"
	cfg.TTS.ChunkSize = 4096
	cfg.TTS.Timeout = 30 * time.Second

	// Playback defaults
	cfg.Playback.Rate = 1.0
	cfg.Playback.SampleRate = 24000
	cfg.Playback.BufferMS = 500
	cfg.Playback.PeriodFrames = 480
	cfg.Playback.Device = ""
	cfg.Playback.StopHotkey = "ctrl+shift+s"

	// Output defaults
	cfg.Output.Format = "console"
	cfg.Output.File = ""

	// Log defaults
	cfg.Log.Level = "info"
	cfg.Log.Pretty = true

	return cfg
}

// Validate checks values that would otherwise fail deep inside playback
func (c *Config) Validate() error {
	var errs []error
	switch c.TTS.Format {
	case "pcm", "mp3":
	default:
		errs = append(errs, fmt.Errorf("tts.format must be pcm or mp3, got %q", c.TTS.Format))
	}
	if c.TTS.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("tts.chunk_size must not be negative"))
	}
	if c.Playback.Rate < 0.5 || c.Playback.Rate > 2.0 {
		errs = append(errs, fmt.Errorf("playback.rate must be within [0.5, 2.0], got %v", c.Playback.Rate))
	}
	if c.Playback.SampleRate == 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate must be set"))
	}
	if c.Playback.BufferMS < 20 {
		errs = append(errs, fmt.Errorf("playback.buffer_ms must be at least 20, got %d", c.Playback.BufferMS))
	}
	switch c.Output.Format {
	case "console", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("output.format must be console, json or text, got %q", c.Output.Format))
	}
	return errors.Join(errs...)
}

// BufferDuration returns the bridge capacity as a duration
func (c *Config) BufferDuration() time.Duration {
	return time.Duration(c.Playback.BufferMS) * time.Millisecond
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// Priority: explicit path > ~/.murmurrc > /etc/murmur/config.yaml
func LoadWithFallback(explicitPath string) (*Config, error) {
	return loadWithFallback(explicitPath, userConfigPath(), "/etc/murmur/config.yaml")
}

func userConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".murmurrc")
}

func loadWithFallback(explicitPath string, candidates ...string) (*Config, error) {
	// If explicit path is provided, use it
	if explicitPath != "" {
		return Load(explicitPath)
	}

	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		if err == nil {
			return cfg, nil
		}
	}

	// No config file found, return defaults
	return DefaultConfig(), nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
