package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Display  DisplayConfig  `yaml:"display"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AudioConfig contains capture and normalization parameters.
type AudioConfig struct {
	DeviceName    string  `yaml:"device_name"`
	SampleRate    int     `yaml:"sample_rate"`    // device native rate: 16000 or 48000
	Channels      int     `yaml:"channels"`       // 1 or 2
	ChunkDuration float64 `yaml:"chunk_duration"` // seconds
	QueueCapacity int     `yaml:"queue_capacity"`
}

// DeepgramConfig contains streaming recognizer parameters.
type DeepgramConfig struct {
	Model          string       `yaml:"model"`
	Language       string       `yaml:"language"`
	InterimResults bool         `yaml:"interim_results"`
	Polish         PolishConfig `yaml:"polish"`
}

// PolishConfig selects the text-polishing/translation service.
type PolishConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

// DisplayConfig controls the local sinks.
type DisplayConfig struct {
	Console        bool   `yaml:"console"`
	OverlayEnabled bool   `yaml:"overlay_enabled"`
	OverlayAddr    string `yaml:"overlay_addr"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			DeviceName:    "BlackHole 2ch",
			SampleRate:    48000,
			Channels:      2,
			ChunkDuration: 0.5,
			QueueCapacity: 32,
		},
		Deepgram: DeepgramConfig{
			Model:          "nova-3",
			Language:       "multi",
			InterimResults: true,
			Polish: PolishConfig{
				Model:     "google/gemini-2.5-flash",
				APIKeyEnv: "OPENROUTER_API_KEY",
				BaseURL:   "https://openrouter.ai/api/v1",
			},
		},
		Display: DisplayConfig{
			Console:        true,
			OverlayEnabled: true,
			OverlayAddr:    ":3000",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// Load reads the configuration file, falling back to defaults when the file
// does not exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "read config file %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// Validate performs validation of the configuration. Unsupported audio
// formats are configuration errors reported once at startup.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return errors.Wrap(err, "audio config")
	}
	if err := c.Deepgram.Validate(); err != nil {
		return errors.Wrap(err, "deepgram config")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging config")
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 && a.SampleRate != 48000 {
		return errors.Errorf("sample_rate must be 16000 or 48000, got %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return errors.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.ChunkDuration <= 0 {
		return errors.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}
	if a.QueueCapacity < 1 {
		return errors.Errorf("queue_capacity must be at least 1, got %d", a.QueueCapacity)
	}
	return nil
}

// Validate validates recognizer configuration.
func (d *DeepgramConfig) Validate() error {
	if d.Model == "" {
		return errors.New("model cannot be empty")
	}
	if d.Language == "" {
		return errors.New("language cannot be empty")
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	switch l.Format {
	case "text", "json", "":
	default:
		return errors.Errorf("format must be 'text' or 'json', got %q", l.Format)
	}
	return nil
}

// GetChunkDuration returns the capture chunk duration as a time.Duration.
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}
