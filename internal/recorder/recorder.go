// Package recorder captures the post-mix bus to an encoded audio container
// on demand. The recorder is a three-state machine (idle → recording →
// stopping → idle); calls that do not match the current state are benign
// no-ops. Finalised takes land in a [TakeStore] for download.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harmonylab/harmonylab/internal/observe"
)

// elapsedTick is the resolution of the recording-duration clock.
const elapsedTick = 200 * time.Millisecond

// State is the recording state machine's position.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// Recorder captures bus blocks into a lazily created, reused [Sink].
type Recorder struct {
	sampleRate int
	newSink    func() (Sink, error)
	store      *TakeStore
	metrics    *observe.Metrics
	log        *slog.Logger

	mu      sync.Mutex
	state   State
	sink    Sink
	written int64 // samples captured this session

	elapsedMS atomic.Int64
	stopTick  chan struct{}
}

// New creates a recorder producing takes at sampleRate using sinks from
// newSink. The sink is created on first successful start and reused across
// sessions for the process lifetime.
func New(sampleRate int, newSink func() (Sink, error), store *TakeStore, metrics *observe.Metrics, log *slog.Logger) *Recorder {
	return &Recorder{
		sampleRate: sampleRate,
		newSink:    newSink,
		store:      store,
		metrics:    metrics,
		log:        log,
		state:      StateIdle,
	}
}

// State returns the current machine state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the running session duration, updated on a ~200 ms tick.
func (r *Recorder) Elapsed() time.Duration {
	return time.Duration(r.elapsedMS.Load()) * time.Millisecond
}

// Start begins a recording session. A start while already recording or
// stopping is a silent no-op. The caller is responsible for checking that an
// active source exists before calling.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return nil
	}

	if r.sink == nil {
		sink, err := r.newSink()
		if err != nil {
			return fmt.Errorf("recorder: create sink: %w", err)
		}
		r.sink = sink
	}
	if err := r.sink.Begin(); err != nil {
		return fmt.Errorf("recorder: begin capture: %w", err)
	}

	// The sink is wired before the state flips, so the first pump block
	// after this call is already captured.
	r.state = StateRecording
	r.written = 0
	r.elapsedMS.Store(0)
	r.stopTick = make(chan struct{})
	go r.tickElapsed(time.Now(), r.stopTick)

	r.metrics.ActiveRecordings.Add(context.Background(), 1)
	r.log.Info("recording started", slog.String("container", r.sink.Extension()))
	return nil
}

// Write appends one bus block to the active session. Blocks arriving while
// not recording are discarded.
func (r *Recorder) Write(block []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return
	}
	if err := r.sink.Write(block); err != nil {
		r.log.Error("recording write failed", slog.String("error", err.Error()))
		return
	}
	r.written += int64(len(block))
}

// Stop finalises the active session into a take. A stop while not recording
// is a no-op returning (nil, nil). The recorder always returns to idle, even
// when finalisation fails.
func (r *Recorder) Stop() (*Take, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return nil, nil
	}
	r.state = StateStopping
	close(r.stopTick)
	r.stopTick = nil

	ctx := context.Background()
	r.metrics.ActiveRecordings.Add(ctx, -1)

	duration := time.Duration(float64(r.written) / float64(r.sampleRate) * float64(time.Second))

	data, err := r.sink.Finalize()
	r.state = StateIdle
	if err != nil {
		r.metrics.RecordRecordingCompleted(ctx, r.sink.Extension(), "error", duration.Seconds())
		return nil, fmt.Errorf("recorder: finalise take: %w", err)
	}

	take := r.store.Put(data, r.sink.Extension(), r.sink.MIME(), duration)
	r.metrics.RecordRecordingCompleted(ctx, r.sink.Extension(), "ok", duration.Seconds())
	r.log.Info("recording saved",
		slog.String("filename", take.Filename),
		slog.Duration("duration", duration),
		slog.Int("bytes", len(data)),
	)
	return take, nil
}

// tickElapsed updates the elapsed clock until the session's stop channel
// closes.
func (r *Recorder) tickElapsed(start time.Time, stop <-chan struct{}) {
	ticker := time.NewTicker(elapsedTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r.elapsedMS.Store(now.Sub(start).Milliseconds())
		}
	}
}
