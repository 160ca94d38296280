package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var validFFTSizes = map[int]bool{256: true, 512: true, 1024: true, 2048: true, 4096: true}

// Load reads, parses and validates the configuration file at path.
// Defaults are applied before validation, so a minimal file is enough.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader parses and validates configuration YAML from r. Unknown
// fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration, as if loaded from an
// empty file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.BlockSize == 0 {
		c.Audio.BlockSize = 960
	}
	if c.Audio.DryLevel == 0 {
		c.Audio.DryLevel = 0.9
	}
	if c.Voices == nil {
		c.Voices = DefaultVoices()
	}
	if c.Recording.Format == "" {
		c.Recording.Format = RecordOgg
	}
	if c.Display.TickMillis == 0 {
		c.Display.TickMillis = 33
	}
	if c.Display.FFTSize == 0 {
		c.Display.FFTSize = 2048
	}
	if c.Display.Smoothing == 0 {
		c.Display.Smoothing = 0.6
	}
}

// Validate checks the configuration for consistency and returns all problems
// joined into a single error.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}

	switch c.Audio.SampleRate {
	case 8000, 16000, 24000, 44100, 48000:
	default:
		errs = append(errs, fmt.Errorf("audio.sample_rate: unsupported rate %d", c.Audio.SampleRate))
	}
	if c.Audio.BlockSize < 64 || c.Audio.BlockSize > 8192 {
		errs = append(errs, fmt.Errorf("audio.block_size: %d outside [64, 8192]", c.Audio.BlockSize))
	}
	if c.Audio.DryLevel < 0 || c.Audio.DryLevel > 1.5 {
		errs = append(errs, fmt.Errorf("audio.dry_level: %v outside [0, 1.5]", c.Audio.DryLevel))
	}

	if len(c.Voices) == 0 {
		errs = append(errs, errors.New("voices: at least one voice is required"))
	}
	seen := make(map[string]bool, len(c.Voices))
	for i, v := range c.Voices {
		if v.Label == "" {
			errs = append(errs, fmt.Errorf("voices[%d].label: must not be empty", i))
		} else if seen[v.Label] {
			errs = append(errs, fmt.Errorf("voices[%d].label: duplicate label %q", i, v.Label))
		}
		seen[v.Label] = true

		if v.Semitones < -12 || v.Semitones > 12 {
			errs = append(errs, fmt.Errorf("voices[%d].semitones: %d outside [-12, 12]", i, v.Semitones))
		}
		if v.Semitones == 0 {
			errs = append(errs, fmt.Errorf("voices[%d].semitones: zero shift duplicates the dry path", i))
		}
		if v.Level < 0 || v.Level > 1.5 {
			errs = append(errs, fmt.Errorf("voices[%d].level: %v outside [0, 1.5]", i, v.Level))
		}
	}

	if !c.Recording.Format.IsValid() {
		errs = append(errs, fmt.Errorf("recording.format: unknown format %q", c.Recording.Format))
	}
	if c.Recording.OpusBitrate < 0 {
		errs = append(errs, fmt.Errorf("recording.opus_bitrate: must not be negative, got %d", c.Recording.OpusBitrate))
	}

	if c.Display.TickMillis < 10 || c.Display.TickMillis > 1000 {
		errs = append(errs, fmt.Errorf("display.tick_millis: %d outside [10, 1000]", c.Display.TickMillis))
	}
	if !validFFTSizes[c.Display.FFTSize] {
		errs = append(errs, fmt.Errorf("display.fft_size: %d is not a supported transform size", c.Display.FFTSize))
	}
	if c.Display.Smoothing < 0 || c.Display.Smoothing > 0.95 {
		errs = append(errs, fmt.Errorf("display.smoothing: %v outside [0, 0.95]", c.Display.Smoothing))
	}

	return errors.Join(errs...)
}
