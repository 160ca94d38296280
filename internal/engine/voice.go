package engine

import (
	"fmt"

	"github.com/harmonylab/harmonylab/internal/config"
	"github.com/harmonylab/harmonylab/internal/dsp"
)

// Voice is one harmony channel: a pitch shifter at a fixed semitone offset
// followed by a gain stage. The mutable mix state (enabled, solo, level) is
// owned by the [Coordinator]; the gain node holds only the computed effective
// gain and is the single value the audio path reads.
type Voice struct {
	// Label is the stable display identity, e.g. "+3".
	Label string

	// Semitones is the fixed shift interval.
	Semitones int

	shifter *dsp.Shifter
	gain    *GainNode

	// Mix state, guarded by the owning Coordinator's lock.
	enabled       bool
	solo          bool
	level         float64
	previousLevel float64
}

// NewVoice builds a voice from its preset.
func NewVoice(preset config.VoiceConfig, sampleRate int) (*Voice, error) {
	shifter, err := dsp.NewShifter(float64(preset.Semitones), float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("voice %q: %w", preset.Label, err)
	}
	return &Voice{
		Label:         preset.Label,
		Semitones:     preset.Semitones,
		shifter:       shifter,
		gain:          NewGainNode(0), // Coordinator.apply sets the effective gain
		enabled:       preset.Enabled,
		level:         preset.Level,
		previousLevel: preset.Level,
	}, nil
}

// NewVoices builds the full voice registry from the preset list.
func NewVoices(presets []config.VoiceConfig, sampleRate int) ([]*Voice, error) {
	voices := make([]*Voice, 0, len(presets))
	for _, p := range presets {
		v, err := NewVoice(p, sampleRate)
		if err != nil {
			return nil, err
		}
		voices = append(voices, v)
	}
	return voices, nil
}

// Gain returns the voice's gain node. The stored value is the effective gain
// (zero while muted by disable or another voice's solo), not the user level.
func (v *Voice) Gain() *GainNode { return v.gain }

// VoiceStatus is a read-only snapshot of one voice's mix state.
type VoiceStatus struct {
	Label     string  `json:"label"`
	Semitones int     `json:"semitones"`
	Enabled   bool    `json:"enabled"`
	Solo      bool    `json:"solo"`
	Level     float64 `json:"level"`
}
