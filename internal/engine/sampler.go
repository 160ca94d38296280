package engine

import (
	"math"
	"sync"

	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/cwbudde/algo-dsp/measure/loudness"
	algofft "github.com/cwbudde/algo-fft"

	"github.com/harmonylab/harmonylab/pkg/audio"
)

const (
	// Meter floor/ceiling for the normalised level mapping: -60 dB and below
	// read 0, 0 dB reads 1.
	meterFloorDB = -60.0
)

// LevelSampler turns the bus signal into display values: a normalised
// loudness level in [0, 1] and a smoothed magnitude-spectrum trace. The pump
// pushes every block; readers sample at display-tick granularity and may
// discard frames freely.
type LevelSampler struct {
	mu sync.Mutex

	meter *loudness.Meter

	plan         *algofft.Plan[complex128]
	fftSize      int
	windowCoeffs []float64
	ring         []float64
	ringPos      int

	smoothing float64
	trace     []float64
	spectrum  []complex128
}

// NewLevelSampler creates a sampler for mono bus audio at the given rate.
// fftSize must be a power of two; smoothing is the exponential hold factor
// for the trace in [0, 0.95].
func NewLevelSampler(sampleRate, fftSize int, smoothing float64) (*LevelSampler, error) {
	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, err
	}

	return &LevelSampler{
		meter: loudness.NewMeter(
			loudness.WithSampleRate(float64(sampleRate)),
			loudness.WithChannels(1),
		),
		plan:         plan,
		fftSize:      fftSize,
		windowCoeffs: window.Generate(window.TypeHann, fftSize, window.WithPeriodic()),
		ring:         make([]float64, fftSize),
		smoothing:    audio.Clamp(smoothing, 0, 0.95),
		trace:        make([]float64, fftSize/2),
		spectrum:     make([]complex128, fftSize),
	}, nil
}

// Push feeds one bus block into the meter and the analysis ring. Called from
// the pump once per block.
func (ls *LevelSampler) Push(block []float64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.meter.ProcessBlock(block)

	for _, s := range block {
		ls.ring[ls.ringPos] = s
		ls.ringPos++
		if ls.ringPos == len(ls.ring) {
			ls.ringPos = 0
		}
	}
}

// Level returns the momentary loudness mapped linearly from
// [-60 dB, 0 dB] onto [0, 1]. Non-finite readings (startup, silence) map
// to 0.
func (ls *LevelSampler) Level() float64 {
	ls.mu.Lock()
	db := ls.meter.Momentary()
	ls.mu.Unlock()

	if math.IsNaN(db) || math.IsInf(db, 0) {
		return 0
	}
	return audio.Clamp((db-meterFloorDB)/(0-meterFloorDB), 0, 1)
}

// Trace computes the current magnitude-spectrum frame over the latest
// fftSize samples, folds it into the exponentially smoothed display trace,
// and returns a copy. Each bin is normalised into [0, 1].
func (ls *LevelSampler) Trace() []float64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	// Unroll the ring so the newest sample sits last, then window.
	n := ls.fftSize
	for i := range n {
		s := ls.ring[(ls.ringPos+i)%n]
		ls.spectrum[i] = complex(s*ls.windowCoeffs[i], 0)
	}

	if err := ls.plan.Forward(ls.spectrum, ls.spectrum); err != nil {
		out := make([]float64, len(ls.trace))
		copy(out, ls.trace)
		return out
	}

	// Hann-windowed sine of amplitude 1 peaks at n/4 in bin magnitude.
	norm := 4.0 / float64(n)
	a := ls.smoothing
	for k := range ls.trace {
		mag := audio.Clamp(norm*complexAbs(ls.spectrum[k]), 0, 1)
		ls.trace[k] = a*ls.trace[k] + (1-a)*mag
	}

	out := make([]float64, len(ls.trace))
	copy(out, ls.trace)
	return out
}

// Reset clears the meter and the analysis ring.
func (ls *LevelSampler) Reset() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.meter.Reset()
	clear(ls.ring)
	clear(ls.trace)
	ls.ringPos = 0
}

func complexAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
