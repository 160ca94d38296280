package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harmonylab/harmonylab/internal/advisory"
	"github.com/harmonylab/harmonylab/internal/config"
	"github.com/harmonylab/harmonylab/internal/observe"
	"github.com/harmonylab/harmonylab/internal/recorder"
	"github.com/harmonylab/harmonylab/pkg/audio"
)

// Engine is the harmonizer facade: it owns the graph, the source manager,
// the coordinator, the sampler, and the recorder, and drives one audio block
// through all of them per pump iteration. Construct with [New], release with
// [Engine.Shutdown].
type Engine struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	platform audio.Platform
	graph    *Graph
	coord    *Coordinator
	sources  *SourceManager
	sampler  *LevelSampler
	rec      *recorder.Recorder
	takes    *recorder.TakeStore
	adv      *advisory.Bus

	playback audio.PlaybackStream

	// monitor save/restore for mute-during-recording.
	recMu            sync.Mutex
	savedMonitorGain float64
	monitorMuted     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the engine during construction.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs the engine on the given platform and starts the pump. The
// graph, voices, and coordinator live for the engine's lifetime.
func New(cfg *config.Config, platform audio.Platform, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		log:      slog.Default(),
		platform: platform,
		adv:      advisory.NewBus(),
		takes:    recorder.NewTakeStore(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	voices, err := NewVoices(cfg.Voices, cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("engine: build voices: %w", err)
	}

	e.graph = NewGraph(voices, cfg.Audio.DryLevel, cfg.Audio.BlockSize)
	e.coord = NewCoordinator(e.graph, cfg.Audio.DryLevel)

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	e.sources = NewSourceManager(platform, e.graph, format, cfg.Audio.BlockSize, e.adv, e.metrics)

	e.sampler, err = NewLevelSampler(cfg.Audio.SampleRate, cfg.Display.FFTSize, cfg.Display.Smoothing)
	if err != nil {
		return nil, fmt.Errorf("engine: build sampler: %w", err)
	}

	newSink := func() (recorder.Sink, error) {
		return recorder.NewSink(cfg.Recording.Format.Extension(), cfg.Audio.SampleRate, cfg.Recording.OpusBitrate)
	}
	e.rec = recorder.New(cfg.Audio.SampleRate, newSink, e.takes, e.metrics, e.log)

	if cfg.Audio.Monitor {
		e.playback, err = platform.OpenPlayback(format, cfg.Audio.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("engine: open monitor output: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.pump(ctx)

	e.log.Info("engine started",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("block_size", cfg.Audio.BlockSize),
		slog.Int("voices", len(voices)),
		slog.Bool("monitor", cfg.Audio.Monitor),
	)
	return e, nil
}

// pump drives one block per iteration: pull from sources, process the graph,
// feed the sampler and recorder, and write the monitor output. The loop
// paces itself against the wall clock; a blocking capture device shortens
// the sleep to nothing.
func (e *Engine) pump(ctx context.Context) {
	defer close(e.done)

	blockDur := time.Duration(float64(e.cfg.Audio.BlockSize) / float64(e.cfg.Audio.SampleRate) * float64(time.Second))
	bus := make([]float64, e.cfg.Audio.BlockSize)
	monitor := make([]float64, e.cfg.Audio.BlockSize)

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		if err := e.graph.ProcessBlock(bus, monitor); err != nil {
			e.log.Warn("source read failed", slog.String("error", err.Error()))
		}

		e.sampler.Push(bus)
		e.rec.Write(bus)

		if e.playback != nil {
			if err := e.playback.WriteBlock(monitor); err != nil {
				e.log.Warn("monitor write failed", slog.String("error", err.Error()))
			}
		}

		e.metrics.BlockDuration.Record(ctx, time.Since(start).Seconds())

		next = next.Add(blockDur)
		if d := time.Until(next); d > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
		} else if d < -10*blockDur {
			// Fell far behind (blocked device, debugger pause); resynchronise
			// instead of bursting.
			next = time.Now()
		}
	}
}

// Advisories returns the engine's advisory bus for UI subscription.
func (e *Engine) Advisories() *advisory.Bus { return e.adv }

// Takes returns the take store backing the download endpoint.
func (e *Engine) Takes() *recorder.TakeStore { return e.takes }

// Devices lists the platform's capture devices.
func (e *Engine) Devices() ([]audio.Device, error) {
	return e.platform.Devices()
}

// StartMicrophone opens live capture on the given device ("" = default).
func (e *Engine) StartMicrophone(ctx context.Context, deviceID string) error {
	err := e.sources.StartMicrophone(ctx, deviceID)
	if err != nil {
		e.adv.Publish(advisory.SeverityError, "microphone unavailable: "+err.Error())
		e.metrics.RecordAdvisory(ctx, string(advisory.SeverityError))
	}
	return err
}

// StopMicrophone releases live capture.
func (e *Engine) StopMicrophone() {
	e.sources.StopMicrophone()
}

// SwitchMicrophoneDevice moves live capture to another device.
func (e *Engine) SwitchMicrophoneDevice(ctx context.Context, deviceID string) error {
	err := e.sources.SwitchMicrophoneDevice(ctx, deviceID)
	if err != nil {
		e.adv.Publish(advisory.SeverityError, "device switch failed: "+err.Error())
		e.metrics.RecordAdvisory(ctx, string(advisory.SeverityError))
	}
	return err
}

// LoadFile decodes uploaded WAV bytes into the file player.
func (e *Engine) LoadFile(data []byte, filename string) error {
	err := e.sources.LoadFile(data, filename)
	if err != nil {
		e.adv.Publish(advisory.SeverityError, "could not load file: "+err.Error())
		e.metrics.RecordAdvisory(context.Background(), string(advisory.SeverityError))
		return err
	}
	e.adv.Publish(advisory.SeverityInfo, fmt.Sprintf("loaded %s", filename))
	return nil
}

// Play starts file playback from the beginning.
func (e *Engine) Play() { e.sources.Play() }

// StopPlayback halts file playback.
func (e *Engine) StopPlayback() { e.sources.Stop() }

// ToggleSolo toggles solo on a voice.
func (e *Engine) ToggleSolo(label string) error {
	return e.coord.ToggleSolo(label)
}

// SetVoiceEnabled toggles a voice's contribution to the mix.
func (e *Engine) SetVoiceEnabled(label string, enabled bool) error {
	return e.coord.SetEnabled(label, enabled)
}

// SetVoiceLevel sets a voice's gain multiplier.
func (e *Engine) SetVoiceLevel(label string, level float64) error {
	return e.coord.SetLevel(label, level)
}

// SetDryLevel sets the dry-path gain.
func (e *Engine) SetDryLevel(level float64) {
	e.coord.SetDryLevel(level)
}

// StartRecording begins capturing the bus. Rejected with an advisory when no
// source is active; a start while already recording is a silent no-op.
func (e *Engine) StartRecording() error {
	if !e.sources.HasSource() {
		e.adv.Publish(advisory.SeverityWarn, "select a microphone or load a file before recording")
		e.metrics.RecordAdvisory(context.Background(), string(advisory.SeverityWarn))
		return nil
	}

	if err := e.rec.Start(); err != nil {
		e.adv.Publish(advisory.SeverityError, "recording failed to start: "+err.Error())
		e.metrics.RecordAdvisory(context.Background(), string(advisory.SeverityError))
		return err
	}

	if e.cfg.Recording.MuteMonitor {
		e.muteMonitor()
	}
	return nil
}

// StopRecording finalises the take. A stop while idle is a no-op.
func (e *Engine) StopRecording() (*recorder.Take, error) {
	take, err := e.rec.Stop()

	e.restoreMonitor()

	if err != nil {
		e.adv.Publish(advisory.SeverityError, "recording failed: "+err.Error())
		e.metrics.RecordAdvisory(context.Background(), string(advisory.SeverityError))
		return nil, err
	}
	if take != nil {
		e.adv.Publish(advisory.SeverityInfo, "recording saved as "+take.Filename)
	}
	return take, err
}

// muteMonitor forces the monitor gain to zero for the duration of a
// recording. The bus feeding the recorder is untouched.
func (e *Engine) muteMonitor() {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	if e.monitorMuted {
		return
	}
	e.savedMonitorGain = e.graph.MonitorGain().Get()
	e.graph.MonitorGain().Set(0)
	e.monitorMuted = true
}

// restoreMonitor undoes muteMonitor. Safe to call when not muted.
func (e *Engine) restoreMonitor() {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	if !e.monitorMuted {
		return
	}
	e.graph.MonitorGain().Set(e.savedMonitorGain)
	e.monitorMuted = false
}

// RecordingState returns the recorder's state machine position.
func (e *Engine) RecordingState() recorder.State {
	return e.rec.State()
}

// RecordingElapsed returns the running recording duration.
func (e *Engine) RecordingElapsed() time.Duration {
	return e.rec.Elapsed()
}

// Level returns the normalised input level in [0, 1].
func (e *Engine) Level() float64 {
	return e.sampler.Level()
}

// Trace returns the current spectrum trace for display.
func (e *Engine) Trace() []float64 {
	return e.sampler.Trace()
}

// StatusSnapshot is the full engine state for the control surface.
type StatusSnapshot struct {
	Status    Status         `json:"status"`
	Voices    []VoiceStatus  `json:"voices"`
	DryLevel  float64        `json:"dry_level"`
	Soloed    string         `json:"soloed,omitempty"`
	Recording recorder.State `json:"recording"`
	ElapsedMS int64          `json:"elapsed_ms"`
	MicDevice string         `json:"mic_device,omitempty"`
	File      string         `json:"file,omitempty"`
}

// Status returns a consistent snapshot of source, mix, and recording state.
func (e *Engine) Status() StatusSnapshot {
	snap := StatusSnapshot{
		Status:    e.sources.Status(),
		Voices:    e.coord.Snapshot(),
		DryLevel:  e.coord.DryLevel(),
		Soloed:    e.coord.Soloed(),
		Recording: e.rec.State(),
		ElapsedMS: e.rec.Elapsed().Milliseconds(),
	}
	if id, ok := e.sources.MicDeviceID(); ok {
		snap.MicDevice = id
		if id == "" {
			snap.MicDevice = "default"
		}
	}
	if name, ok := e.sources.FileLabel(); ok {
		snap.File = name
	}
	return snap
}

// Graph exposes the signal graph for white-box assertions.
func (e *Engine) Graph() *Graph { return e.graph }

// Shutdown stops the pump and releases every audio resource. Teardown is
// best-effort and idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
	}

	if take, err := e.rec.Stop(); err == nil && take != nil {
		e.log.Info("recording finalised during shutdown", slog.String("filename", take.Filename))
	}

	e.sources.Close()
	if e.playback != nil {
		_ = e.playback.Close()
	}

	e.log.Info("engine stopped")
	return nil
}
