package engine_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/harmonylab/harmonylab/internal/advisory"
	"github.com/harmonylab/harmonylab/internal/engine"
	"github.com/harmonylab/harmonylab/internal/observe"
	"github.com/harmonylab/harmonylab/internal/wavio"
	"github.com/harmonylab/harmonylab/pkg/audio"
	"github.com/harmonylab/harmonylab/pkg/audio/mock"
)

const (
	testRate  = 48000
	testBlock = 960
)

func newTestManager(t *testing.T, platform *mock.Platform) (*engine.SourceManager, *engine.Graph, *advisory.Bus) {
	t.Helper()

	voices, err := engine.NewVoices(testPresets(), testRate)
	if err != nil {
		t.Fatalf("NewVoices() error = %v", err)
	}
	g := engine.NewGraph(voices, 0.9, testBlock)
	bus := advisory.NewBus()
	sm := engine.NewSourceManager(platform, g,
		audio.Format{SampleRate: testRate, Channels: 1}, testBlock, bus, observe.DefaultMetrics())
	return sm, g, bus
}

func toneWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	n := int(seconds * testRate)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/testRate)
	}
	data, err := wavio.Encode(samples, testRate)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

func TestMicrophoneLifecycle(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, g, _ := newTestManager(t, platform)

	if got := sm.Status(); got != engine.StatusIdle {
		t.Fatalf("initial status = %q, want idle", got)
	}

	if err := sm.StartMicrophone(context.Background(), ""); err != nil {
		t.Fatalf("StartMicrophone() error = %v", err)
	}
	if got := sm.Status(); got != engine.StatusLive {
		t.Errorf("status = %q, want live", got)
	}
	if got := g.SourceCount(); got != 1 {
		t.Errorf("SourceCount() = %d, want 1", got)
	}

	sm.StopMicrophone()
	if got := sm.Status(); got != engine.StatusIdle {
		t.Errorf("status after stop = %q, want idle", got)
	}
	if got := g.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() after stop = %d, want 0", got)
	}
	if got := platform.LiveStreams(); got != 0 {
		t.Errorf("LiveStreams() = %d, want 0 (capture handle released)", got)
	}
}

func TestStartMicrophoneFailureKeepsStatus(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{OpenErr: errors.New("permission denied")}
	sm, g, _ := newTestManager(t, platform)

	err := sm.StartMicrophone(context.Background(), "")
	if err == nil {
		t.Fatal("StartMicrophone() error = nil, want permission error")
	}
	if got := sm.Status(); got != engine.StatusIdle {
		t.Errorf("status after failure = %q, want unchanged idle", got)
	}
	if got := g.SourceCount(); got != 0 {
		t.Errorf("SourceCount() = %d, want 0", got)
	}
}

func TestStartOverLiveMicFailureLeavesIdle(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{DeviceList: []audio.Device{
		{ID: "alpha", Label: "Alpha", Default: true},
		{ID: "beta", Label: "Beta"},
	}}
	sm, g, _ := newTestManager(t, platform)

	if err := sm.StartMicrophone(context.Background(), "alpha"); err != nil {
		t.Fatalf("StartMicrophone() error = %v", err)
	}

	// The old mic is torn down before the new open; when that open fails the
	// manager must not keep claiming a live capture.
	platform.OpenErr = errors.New("device busy")
	if err := sm.StartMicrophone(context.Background(), "beta"); err == nil {
		t.Fatal("StartMicrophone() error = nil, want open failure")
	}

	if got := sm.Status(); got != engine.StatusIdle {
		t.Errorf("status after failed start over live mic = %q, want idle", got)
	}
	if got := g.SourceCount(); got != 0 {
		t.Errorf("SourceCount() = %d, want 0", got)
	}
	if got := platform.LiveStreams(); got != 0 {
		t.Errorf("LiveStreams() = %d, want 0 (old capture released)", got)
	}
}

func TestDeviceSwitchAtomicity(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{DeviceList: []audio.Device{
		{ID: "alpha", Label: "Alpha", Default: true},
		{ID: "beta", Label: "Beta"},
	}}
	sm, g, _ := newTestManager(t, platform)

	if err := sm.StartMicrophone(context.Background(), "alpha"); err != nil {
		t.Fatalf("StartMicrophone() error = %v", err)
	}
	if err := sm.SwitchMicrophoneDevice(context.Background(), "beta"); err != nil {
		t.Fatalf("SwitchMicrophoneDevice() error = %v", err)
	}

	if got := g.SourceCount(); got != 1 {
		t.Fatalf("SourceCount() after switch = %d, want 1 (never two mics)", got)
	}
	if got := platform.LiveStreams(); got != 1 {
		t.Errorf("LiveStreams() = %d, want 1", got)
	}
	if id, ok := sm.MicDeviceID(); !ok || id != "beta" {
		t.Errorf("MicDeviceID() = %q, %v, want beta", id, ok)
	}
	if got := sm.Status(); got != engine.StatusLive {
		t.Errorf("status = %q, want live", got)
	}
}

func TestSupersededMicStartDoesNotResurrect(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, g, _ := newTestManager(t, platform)

	// Stop arrives while the open is still in flight; the late completion
	// must discard its stream instead of attaching it.
	platform.OnOpenCapture = func() {
		platform.OnOpenCapture = nil
		sm.StopMicrophone()
	}

	if err := sm.StartMicrophone(context.Background(), ""); err != nil {
		t.Fatalf("StartMicrophone() error = %v", err)
	}

	if got := sm.Status(); got != engine.StatusIdle {
		t.Errorf("status = %q, want idle (start was superseded)", got)
	}
	if got := g.SourceCount(); got != 0 {
		t.Errorf("SourceCount() = %d, want 0", got)
	}
	if got := platform.LiveStreams(); got != 0 {
		t.Errorf("LiveStreams() = %d, want 0 (orphan stream closed)", got)
	}
}

func TestStartMicrophoneStopsFilePlayer(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, g, _ := newTestManager(t, platform)

	if err := sm.LoadFile(toneWAV(t, 0.1), "tone.wav"); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if err := sm.StartMicrophone(context.Background(), ""); err != nil {
		t.Fatalf("StartMicrophone() error = %v", err)
	}

	if got := g.SourceCount(); got != 1 {
		t.Errorf("SourceCount() = %d, want 1 (player removed before mic)", got)
	}
	if _, ok := sm.FileLabel(); ok {
		t.Error("file player still present after microphone start")
	}
}

func TestLoadFileKeepsMicrophoneRunning(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, g, _ := newTestManager(t, platform)

	if err := sm.StartMicrophone(context.Background(), ""); err != nil {
		t.Fatalf("StartMicrophone() error = %v", err)
	}
	if err := sm.LoadFile(toneWAV(t, 0.1), "tone.wav"); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if got := g.SourceCount(); got != 2 {
		t.Errorf("SourceCount() = %d, want 2 (mic deliberately left attached)", got)
	}
	if got := platform.LiveStreams(); got != 1 {
		t.Errorf("LiveStreams() = %d, want 1", got)
	}
	if got := sm.Status(); got != engine.StatusReady {
		t.Errorf("status = %q, want ready", got)
	}
}

func TestLoadFileReplacesPreviousPlayer(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, g, _ := newTestManager(t, platform)

	if err := sm.LoadFile(toneWAV(t, 0.1), "first.wav"); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if err := sm.LoadFile(toneWAV(t, 0.1), "second.wav"); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if got := g.SourceCount(); got != 1 {
		t.Errorf("SourceCount() = %d, want 1", got)
	}
	if name, _ := sm.FileLabel(); name != "second.wav" {
		t.Errorf("FileLabel() = %q, want second.wav", name)
	}
}

func TestLoadFileRejectsGarbage(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, g, _ := newTestManager(t, platform)

	if err := sm.LoadFile([]byte("not audio"), "junk.bin"); err == nil {
		t.Fatal("LoadFile() error = nil, want decode error")
	}
	if got := sm.Status(); got != engine.StatusIdle {
		t.Errorf("status = %q, want unchanged idle", got)
	}
	if got := g.SourceCount(); got != 0 {
		t.Errorf("SourceCount() = %d, want 0 (no half-attached source)", got)
	}
}

func TestPlayWithoutFilePublishesAdvisory(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, _, bus := newTestManager(t, platform)

	sm.Play()

	if got := sm.Status(); got != engine.StatusIdle {
		t.Errorf("status = %q, want idle (play was a no-op)", got)
	}
	if adv := bus.Last(); adv == nil {
		t.Error("no advisory published for play without a file")
	}
}

func TestPlaybackRunsToCompletion(t *testing.T) {
	t.Parallel()
	platform := &mock.Platform{}
	sm, g, _ := newTestManager(t, platform)

	if err := sm.LoadFile(toneWAV(t, 0.02), "tone.wav"); err != nil { // one block
		t.Fatalf("LoadFile() error = %v", err)
	}
	sm.Play()
	if got := sm.Status(); got != engine.StatusPlaying {
		t.Fatalf("status = %q, want playing", got)
	}

	bus := make([]float64, testBlock)
	monitor := make([]float64, testBlock)
	if err := g.ProcessBlock(bus, monitor); err != nil {
		t.Fatalf("ProcessBlock() error = %v", err)
	}

	if got := sm.Status(); got != engine.StatusReady {
		t.Errorf("status after natural end = %q, want ready", got)
	}

	// Stop after completion stays a no-op that keeps ready.
	sm.Stop()
	if got := sm.Status(); got != engine.StatusReady {
		t.Errorf("status after stop = %q, want ready", got)
	}
}
