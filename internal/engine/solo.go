package engine

import (
	"fmt"
	"sync"

	"github.com/harmonylab/harmonylab/pkg/audio"
)

// Coordinator owns the authoritative mute/solo state for the whole mix and
// keeps every gain node consistent with it. All mutations go through pure
// state transitions followed by a single apply pass that recomputes each
// effective gain, so no call sequence can leave a stale double-mute behind.
//
// Effective audibility of a voice:
//
//	enabled && (no solo active || this voice is the soloed one)
//
// The dry path is audible exactly when no solo is active.
type Coordinator struct {
	mu sync.Mutex

	voices  []*Voice
	dryGain *GainNode

	// dryLevel is the last explicitly user-set dry level, restored when solo
	// ends.
	dryLevel float64

	soloed *Voice
}

// NewCoordinator wires the coordinator to the graph's voices and dry gain and
// applies the initial state.
func NewCoordinator(g *Graph, dryLevel float64) *Coordinator {
	c := &Coordinator{
		voices:   g.Voices(),
		dryGain:  g.DryGain(),
		dryLevel: dryLevel,
	}
	c.mu.Lock()
	c.applyLocked()
	c.mu.Unlock()
	return c
}

// ToggleSolo toggles solo on the named voice. Soloing a voice while another
// is soloed moves the solo in one transition; re-toggling the soloed voice
// returns the mix to normal with every level restored.
func (c *Coordinator) ToggleSolo(label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.findLocked(label)
	if err != nil {
		return err
	}

	switch {
	case c.soloed == v:
		// Soloed(v) -> Normal.
		c.soloed = nil
		v.solo = false
		for _, o := range c.voices {
			o.level = o.previousLevel
		}
	default:
		// Normal -> Soloed(v), or Soloed(w) -> Soloed(v) via implicit exit.
		if c.soloed != nil {
			c.soloed.solo = false
		}
		for _, o := range c.voices {
			o.previousLevel = o.level
		}
		c.soloed = v
		v.solo = true
	}

	c.applyLocked()
	return nil
}

// SetEnabled enables or disables a voice's contribution to the mix. The
// voice's level survives a disable/enable cycle unchanged.
func (c *Coordinator) SetEnabled(label string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.findLocked(label)
	if err != nil {
		return err
	}

	if v.enabled == enabled {
		return nil
	}
	if !enabled {
		v.previousLevel = v.level
	} else {
		v.level = v.previousLevel
	}
	v.enabled = enabled

	c.applyLocked()
	return nil
}

// SetLevel sets a voice's gain multiplier. The new value always becomes the
// restore point for later mute/solo exits; it is applied immediately when the
// voice is audible and deferred otherwise.
func (c *Coordinator) SetLevel(label string, level float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.findLocked(label)
	if err != nil {
		return err
	}

	level = audio.Clamp(level, 0, 1.5)
	v.level = level
	v.previousLevel = level

	c.applyLocked()
	return nil
}

// SetDryLevel sets the dry-path gain. The value is remembered as the user's
// intent and re-applied when a solo ends.
func (c *Coordinator) SetDryLevel(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dryLevel = audio.Clamp(level, 0, 1.5)
	c.applyLocked()
}

// DryLevel returns the last explicitly set dry level.
func (c *Coordinator) DryLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dryLevel
}

// Soloed returns the label of the currently soloed voice, or "".
func (c *Coordinator) Soloed() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.soloed == nil {
		return ""
	}
	return c.soloed.Label
}

// Snapshot returns the mix state of every voice in preset order.
func (c *Coordinator) Snapshot() []VoiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]VoiceStatus, len(c.voices))
	for i, v := range c.voices {
		out[i] = VoiceStatus{
			Label:     v.Label,
			Semitones: v.Semitones,
			Enabled:   v.enabled,
			Solo:      v.solo,
			Level:     v.level,
		}
	}
	return out
}

// applyLocked recomputes every effective gain from the authoritative state.
// Gains change atomically per node; the audio path picks them up at the next
// block boundary.
func (c *Coordinator) applyLocked() {
	soloActive := c.soloed != nil

	for _, v := range c.voices {
		audible := v.enabled && (!soloActive || v == c.soloed)
		if audible {
			v.gain.Set(v.level)
		} else {
			v.gain.Set(0)
		}
	}

	if soloActive {
		c.dryGain.Set(0)
	} else {
		c.dryGain.Set(c.dryLevel)
	}
}

func (c *Coordinator) findLocked(label string) (*Voice, error) {
	for _, v := range c.voices {
		if v.Label == label {
			return v, nil
		}
	}
	return nil, fmt.Errorf("engine: no voice labelled %q", label)
}
