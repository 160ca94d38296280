package engine_test

import (
	"testing"

	"github.com/harmonylab/harmonylab/internal/config"
	"github.com/harmonylab/harmonylab/internal/engine"
)

func testPresets() []config.VoiceConfig {
	return []config.VoiceConfig{
		{Label: "+3", Semitones: 3, Level: 1.0, Enabled: true},
		{Label: "-3", Semitones: -3, Level: 0.8, Enabled: true},
		{Label: "+7", Semitones: 7, Level: 0.6, Enabled: false},
	}
}

func newTestMix(t *testing.T) (*engine.Graph, *engine.Coordinator) {
	t.Helper()
	voices, err := engine.NewVoices(testPresets(), 48000)
	if err != nil {
		t.Fatalf("NewVoices() error = %v", err)
	}
	g := engine.NewGraph(voices, 0.9, 960)
	c := engine.NewCoordinator(g, 0.9)
	return g, c
}

func voiceGain(t *testing.T, g *engine.Graph, label string) float64 {
	t.Helper()
	v, ok := g.Voice(label)
	if !ok {
		t.Fatalf("voice %q not found", label)
	}
	return v.Gain().Get()
}

func TestInitialGainsFollowPresets(t *testing.T) {
	t.Parallel()
	g, _ := newTestMix(t)

	if got := voiceGain(t, g, "+3"); got != 1.0 {
		t.Errorf("+3 gain = %v, want 1.0", got)
	}
	if got := voiceGain(t, g, "+7"); got != 0 {
		t.Errorf("disabled +7 gain = %v, want 0", got)
	}
	if got := g.DryGain().Get(); got != 0.9 {
		t.Errorf("dry gain = %v, want 0.9", got)
	}
}

func TestSoloExclusivity(t *testing.T) {
	t.Parallel()
	g, c := newTestMix(t)

	if err := c.ToggleSolo("+3"); err != nil {
		t.Fatalf("ToggleSolo() error = %v", err)
	}

	if got := voiceGain(t, g, "+3"); got != 1.0 {
		t.Errorf("soloed +3 gain = %v, want 1.0", got)
	}
	if got := voiceGain(t, g, "-3"); got != 0 {
		t.Errorf("-3 gain during solo = %v, want 0", got)
	}
	if got := g.DryGain().Get(); got != 0 {
		t.Errorf("dry gain during solo = %v, want 0", got)
	}
	if got := c.Soloed(); got != "+3" {
		t.Errorf("Soloed() = %q, want +3", got)
	}
}

func TestSoloReversibility(t *testing.T) {
	t.Parallel()
	g, c := newTestMix(t)

	c.SetDryLevel(1.1)
	if err := c.ToggleSolo("-3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}
	if err := c.ToggleSolo("-3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}

	if got := voiceGain(t, g, "+3"); got != 1.0 {
		t.Errorf("+3 gain after solo cycle = %v, want 1.0", got)
	}
	if got := voiceGain(t, g, "-3"); got != 0.8 {
		t.Errorf("-3 gain after solo cycle = %v, want 0.8", got)
	}
	if got := g.DryGain().Get(); got != 1.1 {
		t.Errorf("dry gain after solo cycle = %v, want last set 1.1", got)
	}
	if got := c.Soloed(); got != "" {
		t.Errorf("Soloed() = %q, want none", got)
	}
}

func TestSoloMovesBetweenVoices(t *testing.T) {
	t.Parallel()
	g, c := newTestMix(t)

	if err := c.ToggleSolo("+3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}
	if err := c.ToggleSolo("-3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}

	if got := c.Soloed(); got != "-3" {
		t.Fatalf("Soloed() = %q, want -3", got)
	}
	if got := voiceGain(t, g, "+3"); got != 0 {
		t.Errorf("+3 gain after solo moved = %v, want 0", got)
	}
	if got := voiceGain(t, g, "-3"); got != 0.8 {
		t.Errorf("-3 gain = %v, want 0.8", got)
	}

	// Exiting restores the pre-solo mix.
	if err := c.ToggleSolo("-3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}
	if got := voiceGain(t, g, "+3"); got != 1.0 {
		t.Errorf("+3 gain after exit = %v, want 1.0", got)
	}
}

func TestEnableLevelIndependence(t *testing.T) {
	t.Parallel()
	g, c := newTestMix(t)

	if err := c.SetLevel("+3", 0.45); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if err := c.SetEnabled("+3", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if got := voiceGain(t, g, "+3"); got != 0 {
		t.Fatalf("disabled gain = %v, want 0", got)
	}
	if err := c.SetEnabled("+3", true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if got := voiceGain(t, g, "+3"); got != 0.45 {
		t.Errorf("re-enabled gain = %v, want exact prior 0.45", got)
	}
}

func TestEnableDuringSoloStaysMuted(t *testing.T) {
	t.Parallel()
	g, c := newTestMix(t)

	if err := c.ToggleSolo("+3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}
	if err := c.SetEnabled("+7", true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	if got := voiceGain(t, g, "+7"); got != 0 {
		t.Errorf("+7 gain while another voice soloed = %v, want 0", got)
	}

	if err := c.ToggleSolo("+3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}
	if got := voiceGain(t, g, "+7"); got != 0.6 {
		t.Errorf("+7 gain after solo ends = %v, want 0.6", got)
	}
}

func TestSetLevelWhileMutedIsDeferred(t *testing.T) {
	t.Parallel()
	g, c := newTestMix(t)

	if err := c.ToggleSolo("+3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}
	if err := c.SetLevel("-3", 0.25); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if got := voiceGain(t, g, "-3"); got != 0 {
		t.Fatalf("-3 gain while muted by solo = %v, want 0", got)
	}

	if err := c.ToggleSolo("+3"); err != nil {
		t.Fatalf("ToggleSolo: %v", err)
	}
	if got := voiceGain(t, g, "-3"); got != 0.25 {
		t.Errorf("-3 gain after solo exit = %v, want deferred 0.25", got)
	}
}

func TestUnknownVoiceIsError(t *testing.T) {
	t.Parallel()
	_, c := newTestMix(t)

	if err := c.ToggleSolo("+99"); err == nil {
		t.Error("ToggleSolo(+99) error = nil, want error")
	}
	if err := c.SetLevel("+99", 1); err == nil {
		t.Error("SetLevel(+99) error = nil, want error")
	}
}
