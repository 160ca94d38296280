// Package dsp implements the streaming signal processing used by the
// harmonizer voices: a phase-vocoder pitch shifter that operates on
// consecutive blocks of arbitrary length while keeping phase continuity
// across block boundaries.
package dsp

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/window"
	algofft "github.com/cwbudde/algo-fft"
)

const (
	defaultFrameSize    = 2048
	defaultOversampling = 8
	minFrameSize        = 256

	// colaFloor guards the overlap-add normalisation against division by a
	// vanishing window sum at the very edges of the frame.
	colaFloor = 1e-9
)

// Option configures a [Shifter] during construction.
type Option func(*Shifter)

// WithFrameSize sets the STFT frame size. Must be a power of two >= 256.
func WithFrameSize(n int) Option {
	return func(s *Shifter) {
		s.frameSize = n
	}
}

// WithOversampling sets the STFT overlap factor (frames per frame length).
// Must be a power of two >= 2. Higher values trade CPU for quality.
func WithOversampling(n int) Option {
	return func(s *Shifter) {
		s.oversampling = n
	}
}

// Shifter is a streaming phase-vocoder pitch shifter at a fixed semitone
// offset. It buffers input into overlapping STFT frames, shifts spectral
// bins by the pitch ratio with per-bin phase accumulation, and resynthesises
// via windowed overlap-add.
//
// Process introduces a fixed latency of [Shifter.Latency] samples: output
// tracks input delayed by that amount, with the first hop of output exactly
// silent while the initial frame fills.
//
// A Shifter is not safe for concurrent use; each voice owns its own.
type Shifter struct {
	semitones    float64
	ratio        float64
	sampleRate   float64
	frameSize    int
	oversampling int
	step         int
	latency      int

	plan *algofft.Plan[complex128]

	windowCoeffs []float64
	cola         []float64 // per-offset overlap-add normalisation, length step
	omega        []float64

	frame  []float64 // sliding input frame
	stack  []float64 // completed output samples awaiting emission
	outAcc []float64 // overlap-add accumulator

	magnitudes []float64
	instFreqs  []float64
	shiftMag   []float64
	shiftFreq  []float64
	lastPhase  []float64
	sumPhase   []float64

	spectrum  []complex128
	timeFrame []complex128

	frameIndex int
}

// NewShifter creates a streaming pitch shifter for the given fixed semitone
// offset at the given sample rate.
func NewShifter(semitones, sampleRate float64, opts ...Option) (*Shifter, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("dsp: sample rate must be positive and finite: %f", sampleRate)
	}
	if math.Abs(semitones) > 24 {
		return nil, fmt.Errorf("dsp: semitone offset out of range [-24, 24]: %f", semitones)
	}

	s := &Shifter{
		semitones:    semitones,
		ratio:        math.Exp2(semitones / 12.0),
		sampleRate:   sampleRate,
		frameSize:    defaultFrameSize,
		oversampling: defaultOversampling,
	}
	for _, o := range opts {
		o(s)
	}

	if s.frameSize < minFrameSize || !isPowerOfTwo(s.frameSize) {
		return nil, fmt.Errorf("dsp: frame size must be a power of two >= %d: %d", minFrameSize, s.frameSize)
	}
	if s.oversampling < 2 || s.oversampling >= s.frameSize || !isPowerOfTwo(s.oversampling) {
		return nil, fmt.Errorf("dsp: oversampling must be a power of two in [2, frameSize): %d", s.oversampling)
	}

	s.step = s.frameSize / s.oversampling
	s.latency = s.frameSize - s.step

	plan, err := algofft.NewPlan64(s.frameSize)
	if err != nil {
		return nil, fmt.Errorf("dsp: create FFT plan: %w", err)
	}
	s.plan = plan

	s.windowCoeffs = window.Generate(window.TypeHann, s.frameSize, window.WithPeriodic())
	if len(s.windowCoeffs) != s.frameSize {
		return nil, fmt.Errorf("dsp: window generation failed for size %d", s.frameSize)
	}

	// Overlap-add normalisation: each completed output sample is covered by
	// oversampling window-squared contributions at a fixed offset pattern.
	s.cola = make([]float64, s.step)
	for j := range s.step {
		sum := 0.0
		for m := 0; m < s.oversampling; m++ {
			w := s.windowCoeffs[j+m*s.step]
			sum += w * w
		}
		s.cola[j] = sum
	}

	bins := s.frameSize/2 + 1
	s.omega = make([]float64, bins)
	for k := range bins {
		s.omega[k] = 2 * math.Pi * float64(k) / float64(s.frameSize)
	}

	s.frame = make([]float64, s.frameSize)
	s.stack = make([]float64, s.frameSize)
	s.outAcc = make([]float64, 2*s.frameSize)

	s.magnitudes = make([]float64, bins)
	s.instFreqs = make([]float64, bins)
	s.shiftMag = make([]float64, bins)
	s.shiftFreq = make([]float64, bins)
	s.lastPhase = make([]float64, bins)
	s.sumPhase = make([]float64, bins)

	s.spectrum = make([]complex128, s.frameSize)
	s.timeFrame = make([]complex128, s.frameSize)

	s.frameIndex = s.latency

	return s, nil
}

// Semitones returns the fixed semitone offset.
func (s *Shifter) Semitones() float64 { return s.semitones }

// Ratio returns the frequency ratio corresponding to the semitone offset.
func (s *Shifter) Ratio() float64 { return s.ratio }

// Latency returns the processing delay in samples.
func (s *Shifter) Latency() int { return s.latency }

// Reset clears all buffered audio and phase-tracking state.
func (s *Shifter) Reset() {
	clear(s.frame)
	clear(s.stack)
	clear(s.outAcc)
	clear(s.lastPhase)
	clear(s.sumPhase)
	s.frameIndex = s.latency
}

// Process consumes len(in) samples and writes the same number of shifted
// samples to out. in and out must have equal length; they may alias.
func (s *Shifter) Process(in, out []float64) {
	for i := range in {
		x := in[i]
		s.frame[s.frameIndex] = x
		out[i] = s.stack[s.frameIndex-s.latency]
		s.frameIndex++

		if s.frameIndex >= s.frameSize {
			s.processFrame()
		}
	}
}

// processFrame runs one STFT analysis/shift/synthesis cycle and slides the
// input frame and output accumulator by one hop.
func (s *Shifter) processFrame() {
	s.frameIndex = s.latency
	half := s.frameSize / 2
	hop := float64(s.step)

	for i := range s.frameSize {
		s.spectrum[i] = complex(s.frame[i]*s.windowCoeffs[i], 0)
	}

	if err := s.plan.Forward(s.spectrum, s.spectrum); err != nil {
		// FFT failure on a valid plan is unreachable; emit the dry frame so
		// the stream never stalls.
		s.emitDryFrame()
		return
	}

	// Analysis: magnitude and instantaneous frequency per bin.
	for k := 0; k <= half; k++ {
		re := real(s.spectrum[k])
		im := imag(s.spectrum[k])
		s.magnitudes[k] = math.Hypot(re, im)

		phase := math.Atan2(im, re)
		delta := wrapPhase(phase - s.lastPhase[k] - s.omega[k]*hop)
		s.instFreqs[k] = s.omega[k] + delta/hop
		s.lastPhase[k] = phase
	}

	// Bin shifting by the pitch ratio.
	for k := 0; k <= half; k++ {
		s.shiftMag[k] = 0
		s.shiftFreq[k] = 0
	}
	for k := 0; k <= half; k++ {
		l := int(float64(k) * s.ratio)
		if l > half {
			break
		}
		s.shiftMag[l] += s.magnitudes[k]
		s.shiftFreq[l] = s.instFreqs[k] * s.ratio
	}

	// Synthesis: accumulate phase and rebuild the spectrum.
	for k := 0; k <= half; k++ {
		s.sumPhase[k] += s.shiftFreq[k] * hop
		s.spectrum[k] = complex(
			s.shiftMag[k]*math.Cos(s.sumPhase[k]),
			s.shiftMag[k]*math.Sin(s.sumPhase[k]),
		)
	}

	// Mirror for a real-valued inverse transform.
	s.spectrum[0] = complex(real(s.spectrum[0]), 0)
	s.spectrum[half] = complex(real(s.spectrum[half]), 0)
	for k := 1; k < half; k++ {
		v := s.spectrum[k]
		s.spectrum[s.frameSize-k] = complex(real(v), -imag(v))
	}

	if err := s.plan.Inverse(s.timeFrame, s.spectrum); err != nil {
		s.emitDryFrame()
		return
	}

	for i := range s.frameSize {
		s.outAcc[i] += real(s.timeFrame[i]) * s.windowCoeffs[i]
	}

	s.slide()
}

// emitDryFrame overlap-adds the unprocessed input frame so output continues
// even when a transform fails.
func (s *Shifter) emitDryFrame() {
	for i := range s.frameSize {
		w := s.windowCoeffs[i]
		s.outAcc[i] += s.frame[i] * w * w
	}
	s.slide()
}

// slide emits one hop of completed samples and shifts the frame and
// accumulator left by one hop.
func (s *Shifter) slide() {
	for j := range s.step {
		norm := s.cola[j]
		if norm < colaFloor {
			s.stack[j] = 0
			continue
		}
		s.stack[j] = s.outAcc[j] / norm
	}

	copy(s.outAcc, s.outAcc[s.step:])
	clear(s.outAcc[len(s.outAcc)-s.step:])
	copy(s.frame, s.frame[s.step:])
}

func wrapPhase(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x - math.Pi
}

func isPowerOfTwo(v int) bool {
	return v > 0 && v&(v-1) == 0
}
