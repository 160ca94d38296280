package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harmonylab/harmonylab/internal/advisory"
	"github.com/harmonylab/harmonylab/internal/observe"
	"github.com/harmonylab/harmonylab/internal/wavio"
	"github.com/harmonylab/harmonylab/pkg/audio"
)

// Status is the engine's source-lifecycle state.
type Status string

const (
	// StatusIdle means no source is active.
	StatusIdle Status = "idle"

	// StatusReady means a file is loaded but not playing.
	StatusReady Status = "ready"

	// StatusLive means the microphone is capturing.
	StatusLive Status = "live"

	// StatusPlaying means the loaded file is playing back.
	StatusPlaying Status = "playing"
)

// Source is one input feeding the signal graph. ReadBlock fills out with the
// next block of mono samples; an inactive source fills silence.
type Source interface {
	// Kind is "microphone" or "file".
	Kind() string

	// Label is a human-readable identity (device name or filename).
	Label() string

	// ReadBlock produces the next block. It may block to pace against a
	// device clock.
	ReadBlock(out []float64) error

	// Close releases the underlying resource. Idempotent.
	Close() error
}

// micSource adapts a capture stream to the Source interface.
type micSource struct {
	deviceID string
	stream   audio.CaptureStream
}

func (m *micSource) Kind() string  { return "microphone" }
func (m *micSource) Label() string { return m.deviceID }

func (m *micSource) ReadBlock(out []float64) error {
	return m.stream.ReadBlock(out)
}

func (m *micSource) Close() error {
	return m.stream.Close()
}

// filePlayer plays a decoded audio buffer. Playback never loops; when the
// buffer is exhausted the player goes silent and fires onEnd once.
type filePlayer struct {
	filename string
	samples  []float64

	mu      sync.Mutex
	pos     int
	playing bool
	onEnd   func()
}

func (f *filePlayer) Kind() string  { return "file" }
func (f *filePlayer) Label() string { return f.filename }

func (f *filePlayer) ReadBlock(out []float64) error {
	f.mu.Lock()

	if !f.playing {
		f.mu.Unlock()
		clear(out)
		return nil
	}

	n := copy(out, f.samples[f.pos:])
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	f.pos += n

	var done func()
	if f.pos >= len(f.samples) {
		f.playing = false
		done = f.onEnd
	}
	f.mu.Unlock()

	if done != nil {
		done()
	}
	return nil
}

func (f *filePlayer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.onEnd = nil
	return nil
}

// play restarts playback from position zero.
func (f *filePlayer) play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = 0
	f.playing = true
}

// stopPlayback halts playback without firing onEnd.
func (f *filePlayer) stopPlayback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
}

// Duration returns the buffer length at the given rate.
func (f *filePlayer) Duration(sampleRate int) time.Duration {
	return time.Duration(float64(len(f.samples)) / float64(sampleRate) * float64(time.Second))
}

// SourceManager owns the lifecycle of the active inputs and keeps the engine
// status consistent. A microphone start stops an active file player, but a
// file load leaves a running microphone untouched; the two coexist in the
// graph in that one direction only.
type SourceManager struct {
	platform   audio.Platform
	graph      *Graph
	format     audio.Format
	blockSize  int
	advisories *advisory.Bus
	metrics    *observe.Metrics

	mu     sync.Mutex
	status Status
	mic    *micSource
	player *filePlayer

	// micGen invalidates in-flight microphone starts: a start completion that
	// observes a newer generation discards its stream instead of attaching it.
	micGen uint64
}

// NewSourceManager wires source lifecycle management to the graph.
func NewSourceManager(platform audio.Platform, graph *Graph, format audio.Format, blockSize int, bus *advisory.Bus, metrics *observe.Metrics) *SourceManager {
	return &SourceManager{
		platform:   platform,
		graph:      graph,
		format:     format,
		blockSize:  blockSize,
		advisories: bus,
		metrics:    metrics,
		status:     StatusIdle,
	}
}

// Status returns the current source-lifecycle status.
func (sm *SourceManager) Status() Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status
}

// HasSource reports whether any source (microphone or loaded file) exists.
func (sm *SourceManager) HasSource() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.mic != nil || sm.player != nil
}

// MicDeviceID returns the active microphone's device ID, or "" with false
// when no microphone is live.
func (sm *SourceManager) MicDeviceID() (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.mic == nil {
		return "", false
	}
	return sm.mic.deviceID, true
}

// FileLabel returns the loaded file's name, or "" with false when none is
// loaded.
func (sm *SourceManager) FileLabel() (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.player == nil {
		return "", false
	}
	return sm.player.filename, true
}

// StartMicrophone opens capture on the given device ("" = system default)
// and attaches it to the graph. Any active source (file player or a mic on
// another device) is removed first and status drops to idle, so a failed
// open leaves a truthful idle state with nothing attached.
func (sm *SourceManager) StartMicrophone(ctx context.Context, deviceID string) error {
	start := time.Now()

	sm.mu.Lock()
	if sm.mic != nil && sm.mic.deviceID == deviceID {
		sm.mu.Unlock()
		return nil // harmless double-start
	}
	if sm.player != nil {
		sm.detachPlayerLocked()
		sm.status = StatusIdle
		sm.metrics.ActiveSources.Add(ctx, -1)
	}
	if sm.mic != nil {
		sm.teardownMicLocked()
		sm.status = StatusIdle
		sm.metrics.ActiveSources.Add(ctx, -1)
	}
	sm.micGen++
	gen := sm.micGen
	sm.mu.Unlock()

	// Device open can block on permission prompts; do it outside the lock so
	// a concurrent stop stays responsive.
	stream, err := sm.platform.OpenCapture(ctx, deviceID, sm.format, sm.blockSize)
	if err != nil {
		sm.metrics.RecordSourceStart(ctx, "microphone", "error")
		return fmt.Errorf("start microphone: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if gen != sm.micGen {
		// A stop or another start superseded this one; the late completion
		// must not resurrect the source.
		_ = stream.Close()
		return nil
	}

	sm.mic = &micSource{deviceID: deviceID, stream: stream}
	sm.graph.Attach(sm.mic)
	sm.status = StatusLive

	sm.metrics.RecordSourceStart(ctx, "microphone", "ok")
	sm.metrics.SourceStartDuration.Record(ctx, time.Since(start).Seconds())
	sm.metrics.ActiveSources.Add(ctx, 1)
	return nil
}

// StopMicrophone detaches and releases the capture handle. A no-op when no
// microphone is live; always invalidates any in-flight start.
func (sm *SourceManager) StopMicrophone() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.micGen++
	if sm.mic == nil {
		return
	}
	sm.teardownMicLocked()
	sm.status = StatusIdle
	sm.metrics.ActiveSources.Add(context.Background(), -1)
}

// SwitchMicrophoneDevice atomically moves a live capture to a new device.
// Old-device teardown is initiated before new-device setup begins, so two
// microphones are never simultaneously attached; a brief silent gap is
// accepted.
func (sm *SourceManager) SwitchMicrophoneDevice(ctx context.Context, deviceID string) error {
	sm.mu.Lock()
	if sm.mic == nil {
		sm.mu.Unlock()
		return sm.StartMicrophone(ctx, deviceID)
	}
	sm.teardownMicLocked()
	sm.status = StatusIdle
	sm.metrics.ActiveSources.Add(ctx, -1)
	sm.mu.Unlock()

	return sm.StartMicrophone(ctx, deviceID)
}

// LoadFile decodes WAV bytes, replaces any previously loaded player, and
// attaches the new one. A running microphone is deliberately left attached.
func (sm *SourceManager) LoadFile(data []byte, filename string) error {
	start := time.Now()
	ctx := context.Background()

	samples, rate, err := wavio.Decode(data)
	if err != nil {
		sm.metrics.RecordSourceStart(ctx, "file", "error")
		return fmt.Errorf("load file %q: %w", filename, err)
	}
	samples = audio.Resample(samples, rate, sm.format.SampleRate)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.player != nil {
		sm.detachPlayerLocked()
	} else {
		sm.metrics.ActiveSources.Add(ctx, 1)
	}

	sm.player = &filePlayer{filename: filename, samples: samples}
	sm.graph.Attach(sm.player)
	sm.status = StatusReady

	sm.metrics.RecordSourceStart(ctx, "file", "ok")
	sm.metrics.SourceStartDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// Play starts the loaded file from position zero. With nothing loaded it
// publishes an advisory and does nothing.
func (sm *SourceManager) Play() {
	sm.mu.Lock()

	if sm.player == nil {
		sm.mu.Unlock()
		sm.advisories.Publish(advisory.SeverityInfo, "load a file before pressing play")
		return
	}

	player := sm.player
	player.mu.Lock()
	player.onEnd = func() { sm.playbackEnded(player) }
	player.mu.Unlock()

	player.play()
	sm.status = StatusPlaying
	sm.mu.Unlock()
}

// Stop halts file playback. A no-op when nothing is loaded.
func (sm *SourceManager) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.player == nil {
		return
	}
	sm.player.stopPlayback()
	sm.status = StatusReady
}

// playbackEnded resets status when a file finishes naturally. A stale
// callback from a superseded player is ignored.
func (sm *SourceManager) playbackEnded(player *filePlayer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.player != player || sm.status != StatusPlaying {
		return
	}
	sm.status = StatusReady
}

// Close tears down all sources. Teardown is best-effort.
func (sm *SourceManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.micGen++
	if sm.mic != nil {
		sm.teardownMicLocked()
		sm.metrics.ActiveSources.Add(context.Background(), -1)
	}
	if sm.player != nil {
		sm.detachPlayerLocked()
		sm.metrics.ActiveSources.Add(context.Background(), -1)
	}
	sm.status = StatusIdle
}

// teardownMicLocked detaches and closes the live microphone. Close failures
// are swallowed; teardown never blocks forward progress.
func (sm *SourceManager) teardownMicLocked() {
	sm.graph.Detach(sm.mic)
	_ = sm.mic.Close()
	sm.mic = nil
}

// detachPlayerLocked detaches and disposes the loaded file player.
func (sm *SourceManager) detachPlayerLocked() {
	sm.player.stopPlayback()
	sm.graph.Detach(sm.player)
	_ = sm.player.Close()
	sm.player = nil
}
