package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 2 {
		t.Errorf("default audio format = %d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if cfg.Deepgram.Model != "nova-3" {
		t.Errorf("default model = %q", cfg.Deepgram.Model)
	}
	if cfg.Deepgram.Polish.APIKeyEnv != "OPENROUTER_API_KEY" {
		t.Errorf("default polish key env = %q", cfg.Deepgram.Polish.APIKeyEnv)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Audio.DeviceName != Default().Audio.DeviceName {
		t.Errorf("device name = %q, want default", cfg.Audio.DeviceName)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
audio:
  sample_rate: 16000
  channels: 1
  chunk_duration: 0.25
deepgram:
  language: en
  interim_results: false
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Errorf("audio format = %d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if cfg.Audio.GetChunkDuration() != 250*time.Millisecond {
		t.Errorf("chunk duration = %v", cfg.Audio.GetChunkDuration())
	}
	if cfg.Deepgram.Language != "en" {
		t.Errorf("language = %q", cfg.Deepgram.Language)
	}
	if cfg.Deepgram.InterimResults {
		t.Error("interim_results should be overridden to false")
	}
	// Sections absent from the file keep their defaults.
	if cfg.Deepgram.Model != "nova-3" {
		t.Errorf("model = %q, want default", cfg.Deepgram.Model)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("audio: [not: a: mapping"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			"unsupported sample rate",
			func(c *Config) { c.Audio.SampleRate = 44100 },
			"sample_rate",
		},
		{
			"unsupported channel count",
			func(c *Config) { c.Audio.Channels = 6 },
			"channels",
		},
		{
			"non-positive chunk duration",
			func(c *Config) { c.Audio.ChunkDuration = 0 },
			"chunk_duration",
		},
		{
			"zero queue capacity",
			func(c *Config) { c.Audio.QueueCapacity = 0 },
			"queue_capacity",
		},
		{
			"empty model",
			func(c *Config) { c.Deepgram.Model = "" },
			"model",
		},
		{
			"empty language",
			func(c *Config) { c.Deepgram.Language = "" },
			"language",
		},
		{
			"unknown log level",
			func(c *Config) { c.Logging.Level = "verbose" },
			"level",
		},
		{
			"unknown log format",
			func(c *Config) { c.Logging.Format = "xml" },
			"format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}
