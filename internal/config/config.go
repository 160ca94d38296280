// Package config provides the configuration schema and loader for the
// HarmonyLab engine.
package config

// LogLevel controls log verbosity for the HarmonyLab server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// RecordFormat selects the container/codec used by the recording sink.
type RecordFormat string

const (
	// RecordOgg captures the bus as Opus frames in an Ogg container.
	RecordOgg RecordFormat = "ogg"

	// RecordWAV captures the bus as 16-bit PCM in a WAV container.
	RecordWAV RecordFormat = "wav"
)

// IsValid reports whether f is a recognised recording format.
func (f RecordFormat) IsValid() bool {
	return f == RecordOgg || f == RecordWAV
}

// Extension returns the file extension (without dot) for the format.
func (f RecordFormat) Extension() string {
	return string(f)
}

// Config is the root configuration structure for HarmonyLab.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Voices    []VoiceConfig   `yaml:"voices"`
	Recording RecordingConfig `yaml:"recording"`
	Display   DisplayConfig   `yaml:"display"`
}

// ServerConfig holds network and logging settings for the control surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the control surface listens on
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig holds the engine's processing format and device defaults.
type AudioConfig struct {
	// SampleRate is the engine processing rate in Hz. Default: 48000.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples processed per pump iteration.
	// Default: 960 (20 ms at 48 kHz).
	BlockSize int `yaml:"block_size"`

	// InputDevice preselects a capture device ID. Empty means the system
	// default; the UI may override per start-microphone call.
	InputDevice string `yaml:"input_device"`

	// Monitor enables the speaker monitoring path. Disable for headless use.
	Monitor bool `yaml:"monitor"`

	// DryLevel is the initial gain of the unshifted signal path.
	// Default: 0.9.
	DryLevel float64 `yaml:"dry_level"`
}

// VoiceConfig describes one harmony voice preset.
type VoiceConfig struct {
	// Label is the voice's display identity (e.g., "+3").
	Label string `yaml:"label"`

	// Semitones is the fixed pitch-shift interval, in [-12, +12].
	Semitones int `yaml:"semitones"`

	// Level is the initial gain multiplier in [0, 1.5].
	Level float64 `yaml:"level"`

	// Enabled sets whether the voice contributes to the mix at startup.
	Enabled bool `yaml:"enabled"`
}

// RecordingConfig holds settings for the capture sink.
type RecordingConfig struct {
	// Format selects the take container. Default: ogg.
	Format RecordFormat `yaml:"format"`

	// MuteMonitor forces the monitor gain to zero while a recording is
	// active. The bus feeding the recorder is never affected.
	MuteMonitor bool `yaml:"mute_monitor"`

	// OpusBitrate is the target bitrate in bits/s for the Opus encoder.
	// Zero selects the encoder default.
	OpusBitrate int `yaml:"opus_bitrate"`
}

// DisplayConfig holds settings for the level/spectrum sampling path.
type DisplayConfig struct {
	// TickMillis is the display refresh period driving the level and trace
	// feed. Default: 33 (roughly 30 fps).
	TickMillis int `yaml:"tick_millis"`

	// FFTSize is the analysis-tap transform size. Must be one of
	// 256, 512, 1024, 2048, 4096. Default: 2048.
	FFTSize int `yaml:"fft_size"`

	// Smoothing is the exponential smoothing factor applied to the spectrum
	// trace, in [0, 0.95]. Default: 0.6.
	Smoothing float64 `yaml:"smoothing"`
}

// DefaultVoices returns the fixed preset list used when the voices section
// is absent: minor thirds and perfect fifths above and below.
func DefaultVoices() []VoiceConfig {
	return []VoiceConfig{
		{Label: "+3", Semitones: 3, Level: 1.0, Enabled: true},
		{Label: "-3", Semitones: -3, Level: 1.0, Enabled: true},
		{Label: "+7", Semitones: 7, Level: 1.0, Enabled: false},
		{Label: "-7", Semitones: -7, Level: 1.0, Enabled: false},
	}
}
