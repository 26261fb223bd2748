// ABOUTME: YAML configuration for the snapstream server
// ABOUTME: Loading, defaults, and validation for all sections

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Source    SourceConfig    `yaml:"source"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the listener addresses.
type ServerConfig struct {
	// Addr is the TCP stream listener address.
	Addr string `yaml:"addr"`

	// HTTPAddr serves the WebSocket stream endpoint and status page.
	HTTPAddr string `yaml:"http_addr"`

	// HTTPEnabled toggles the HTTP server entirely.
	HTTPEnabled bool `yaml:"http_enabled"`
}

// StreamConfig holds the audio format and encoder settings.
type StreamConfig struct {
	Codec      string `yaml:"codec"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BitDepth   int    `yaml:"bit_depth"`

	// BufferMs is the end-to-end buffer advertised to clients.
	BufferMs int `yaml:"buffer_ms"`

	// LatencyMs is an additional per-server latency offset.
	LatencyMs int `yaml:"latency_ms"`

	// MaxBufferedMs bounds how much encoded-but-unflushed audio may
	// accumulate before a flush is forced.
	MaxBufferedMs int `yaml:"max_buffered_ms"`
}

// SourceConfig selects what audio the server streams.
type SourceConfig struct {
	// Type is one of "tone", "mp3", or "stdin".
	Type string `yaml:"type"`

	// Path is the input file for the mp3 source.
	Path string `yaml:"path"`

	// Frequency is the tone source's pitch in Hz.
	Frequency float64 `yaml:"frequency"`
}

// DiscoveryConfig controls mDNS advertisement.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// LoggingConfig controls log destination.
type LoggingConfig struct {
	// File receives a copy of the log output in addition to stderr.
	// Empty means stderr only.
	File string `yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":1704",
			HTTPAddr:    ":1780",
			HTTPEnabled: true,
		},
		Stream: StreamConfig{
			Codec:         "pcm",
			SampleRate:    48000,
			Channels:      2,
			BitDepth:      16,
			BufferMs:      1000,
			LatencyMs:     0,
			MaxBufferedMs: 1000,
		},
		Source: SourceConfig{
			Type:      "tone",
			Frequency: 440,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Name:    "Snapstream",
		},
	}
}

// Load reads a YAML configuration file, layered over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}
	return nil
}

// Validate checks the listener addresses.
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if s.HTTPEnabled && s.HTTPAddr == "" {
		return fmt.Errorf("http_addr cannot be empty when http is enabled")
	}
	return nil
}

// Validate checks the codec and the audio format.
func (s *StreamConfig) Validate() error {
	switch s.Codec {
	case "pcm", "opus", "flac":
	default:
		return fmt.Errorf("codec must be one of [pcm, opus, flac], got %q", s.Codec)
	}

	if err := s.Format().Validate(); err != nil {
		return err
	}

	if s.BufferMs < 100 {
		return fmt.Errorf("buffer_ms must be at least 100, got %d", s.BufferMs)
	}
	if s.LatencyMs < 0 {
		return fmt.Errorf("latency_ms cannot be negative, got %d", s.LatencyMs)
	}
	if s.MaxBufferedMs < 1 {
		return fmt.Errorf("max_buffered_ms must be positive, got %d", s.MaxBufferedMs)
	}
	return nil
}

// Validate checks the source selection.
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case "tone":
		if s.Frequency <= 0 {
			return fmt.Errorf("frequency must be positive for the tone source, got %f", s.Frequency)
		}
	case "mp3":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for the mp3 source")
		}
	case "stdin":
	default:
		return fmt.Errorf("source type must be one of [tone, mp3, stdin], got %q", s.Type)
	}
	return nil
}

// Format returns the stream's PCM format.
func (s *StreamConfig) Format() audio.Format {
	return audio.Format{
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		BitDepth:   s.BitDepth,
	}
}

// MaxBuffered returns the flush bound as a duration.
func (s *StreamConfig) MaxBuffered() time.Duration {
	return time.Duration(s.MaxBufferedMs) * time.Millisecond
}

// Latency returns the per-server latency offset as a duration.
func (s *StreamConfig) Latency() time.Duration {
	return time.Duration(s.LatencyMs) * time.Millisecond
}
