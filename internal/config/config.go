// ABOUTME: Configuration file schema, defaults and validation
// ABOUTME: Opaque plugin sections stay raw JSON until the factory reads them
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ziplantil/exocaster/internal/pcm"
)

// QueueConfig selects a command or publish queue transport.
type QueueConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// DecoderConfig selects the decoder plugin behind a command name.
type DecoderConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// PCMBufferConfig describes the shared PCM format and the per-output
// buffer sizing and drop policy.
type PCMBufferConfig struct {
	Format     string  `json:"format"`
	SampleRate int     `json:"samplerate"`
	Channels   string  `json:"channels"`
	Duration   float64 `json:"duration"`
	Skip       *bool   `json:"skip"`
	SkipMargin float64 `json:"skipmargin"`
	SkipFactor float64 `json:"skipfactor"`
}

// PCMFormat resolves the configured format triple.
func (c PCMBufferConfig) PCMFormat() (pcm.Format, error) {
	// s24 is internal only and not accepted from configuration.
	if c.Format == "s24" {
		return pcm.Format{}, fmt.Errorf("unsupported PCM format %q", c.Format)
	}
	sample, err := pcm.ParseSampleFormat(c.Format)
	if err != nil {
		return pcm.Format{}, err
	}
	channels, err := pcm.ParseChannelLayout(c.Channels)
	if err != nil {
		return pcm.Format{}, err
	}
	return pcm.Format{Sample: sample, Rate: c.SampleRate, Channels: channels}, nil
}

// BufferBytes returns the PCM byte ring size implied by the configured
// duration.
func (c PCMBufferConfig) BufferBytes() int {
	f, err := c.PCMFormat()
	if err != nil {
		return 0
	}
	return int(c.Duration*float64(c.SampleRate)) * f.BytesPerFrame()
}

// SkipEnabled reports whether the sample-rate drop policy is on.
func (c PCMBufferConfig) SkipEnabled() bool {
	return c.Skip == nil || *c.Skip
}

// ResamplerConfig selects the resampler used by encoders that change
// the sample rate.
type ResamplerConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// BrocaConfig selects one sink attached to an output.
type BrocaConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// OutputConfig describes one encoder and its sinks.
type OutputConfig struct {
	Type         string          `json:"type"`
	Buffer       int             `json:"buffer"`
	Config       json.RawMessage `json:"config"`
	Broca        []BrocaConfig   `json:"broca"`
	Barrier      string          `json:"barrier"`
	SendMetadata *bool           `json:"sendmetadata"`
	SendCommand  *bool           `json:"sendcommand"`
}

// JobsConfig sizes the decoder job queue and worker pool.
type JobsConfig struct {
	Queue   int `json:"queue"`
	Workers int `json:"workers"`
}

// DiscoveryConfig advertises the instance over mDNS while running.
type DiscoveryConfig struct {
	Service string `json:"service"`
	Port    int    `json:"port"`
}

// LogConfig tunes the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Config is the full configuration file.
type Config struct {
	Shell     QueueConfig              `json:"shell"`
	Publish   []QueueConfig            `json:"publish"`
	Commands  map[string]DecoderConfig `json:"commands"`
	PCMBuffer PCMBufferConfig          `json:"pcmbuffer"`
	Resampler ResamplerConfig          `json:"resampler"`
	Outputs   []OutputConfig           `json:"outputs"`
	Jobs      JobsConfig               `json:"jobs"`
	Discovery *DiscoveryConfig         `json:"discovery"`
	Log       LogConfig                `json:"log"`
}

// Defaults applied before validation.
const (
	DefaultPacketRingSize = 65536
	DefaultJobQueueSize   = 8
	DefaultJobWorkers     = 2
)

func defaultConfig() Config {
	return Config{
		PCMBuffer: PCMBufferConfig{
			Format:     "s16",
			SampleRate: 44100,
			Channels:   "stereo",
			Duration:   1.0,
			SkipMargin: 0.1,
			SkipFactor: 2.0,
		},
		Jobs: JobsConfig{Queue: DefaultJobQueueSize, Workers: DefaultJobWorkers},
	}
}

// Parse decodes, normalizes and validates a configuration document.
// Unknown keys are ignored.
func Parse(data []byte) (Config, error) {
	cfg := defaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

func (c *Config) normalize() {
	for i := range c.Outputs {
		if c.Outputs[i].Buffer == 0 {
			c.Outputs[i].Buffer = DefaultPacketRingSize
		}
	}
	if c.Jobs.Queue <= 0 {
		c.Jobs.Queue = DefaultJobQueueSize
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = DefaultJobWorkers
	}
}

func (c *Config) validate() error {
	if c.Shell.Type == "" {
		return fmt.Errorf("config: no 'shell' field")
	}
	if len(c.Commands) == 0 {
		return fmt.Errorf("config: no 'commands' field")
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("config: no 'outputs' field")
	}
	if c.PCMBuffer.Duration < 0 {
		return fmt.Errorf("config: duration cannot be negative")
	}
	if c.PCMBuffer.SkipMargin < 0 {
		return fmt.Errorf("config: skipmargin cannot be negative")
	}
	if c.PCMBuffer.SkipFactor < 0 {
		return fmt.Errorf("config: skipfactor cannot be negative")
	}
	if _, err := c.PCMBuffer.PCMFormat(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for name, dec := range c.Commands {
		if dec.Type == "" {
			return fmt.Errorf("config: command %q has no decoder type", name)
		}
	}
	for i, out := range c.Outputs {
		if out.Type == "" {
			return fmt.Errorf("config: output %d has no type", i)
		}
		if len(out.Broca) == 0 {
			return fmt.Errorf("config: output %d has no 'broca' field", i)
		}
		for j, b := range out.Broca {
			if b.Type == "" {
				return fmt.Errorf("config: output %d broca %d has no type", i, j)
			}
		}
	}
	if c.Discovery != nil {
		if c.Discovery.Service == "" {
			return fmt.Errorf("config: discovery has no service")
		}
		if c.Discovery.Port <= 0 || c.Discovery.Port > 65535 {
			return fmt.Errorf("config: discovery port out of range")
		}
	}
	return nil
}
