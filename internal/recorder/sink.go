package recorder

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"layeh.com/gopus"

	"github.com/harmonylab/harmonylab/internal/wavio"
	"github.com/harmonylab/harmonylab/pkg/audio"
)

// Opus always encodes at 48 kHz; 20 ms frames are 960 samples.
const (
	opusSampleRate = 48000
	opusFrameSize  = opusSampleRate * 20 / 1000
	opusMaxPacket  = 4000

	// opusPreskip is the encoder priming delay declared in the OpusHead
	// header, in 48 kHz samples.
	opusPreskip = 312
)

// Sink encodes bus audio into a storable container. A sink is created once
// and reused across recording sessions: Begin resets it for a new take,
// Write appends audio, Finalize seals and returns the container bytes.
type Sink interface {
	Begin() error
	Write(block []float64) error
	Finalize() ([]byte, error)

	// Extension is the container file extension without the dot.
	Extension() string

	// MIME is the container media type.
	MIME() string
}

// NewSink returns a sink for the given container extension ("ogg" or "wav")
// capturing mono audio at sampleRate.
func NewSink(extension string, sampleRate, opusBitrate int) (Sink, error) {
	switch extension {
	case "ogg":
		return newOpusSink(sampleRate, opusBitrate)
	case "wav":
		return &wavSink{sampleRate: sampleRate}, nil
	default:
		return nil, fmt.Errorf("recorder: unknown container %q", extension)
	}
}

// opusSink encodes the bus as mono Opus frames in an Ogg container.
type opusSink struct {
	enc        *gopus.Encoder
	sampleRate int

	ogg     *oggWriter
	staging []int16
	granule uint64
}

func newOpusSink(sampleRate, bitrate int) (*opusSink, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("recorder: create opus encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return &opusSink{enc: enc, sampleRate: sampleRate}, nil
}

func (s *opusSink) Extension() string { return "ogg" }
func (s *opusSink) MIME() string      { return "audio/ogg" }

// Begin starts a fresh Ogg stream and writes the OpusHead and OpusTags
// header pages. The encoder itself is reused across takes.
func (s *opusSink) Begin() error {
	s.ogg = newOggWriter(rand.Uint32())
	s.staging = s.staging[:0]
	s.granule = opusPreskip

	s.ogg.writePacket(opusHead(), 0)
	s.ogg.flushPage(false)
	s.ogg.writePacket(opusTags(), 0)
	s.ogg.flushPage(false)
	return nil
}

// Write resamples the block to 48 kHz, stages it as int16 PCM, and encodes
// every complete 20 ms frame.
func (s *opusSink) Write(block []float64) error {
	if s.ogg == nil {
		return fmt.Errorf("recorder: opus sink written before Begin")
	}

	resampled := audio.Resample(block, s.sampleRate, opusSampleRate)
	s.staging = append(s.staging, audio.Float64ToInt16(resampled)...)

	for len(s.staging) >= opusFrameSize {
		if err := s.encodeFrame(s.staging[:opusFrameSize]); err != nil {
			return err
		}
		s.staging = s.staging[opusFrameSize:]
	}
	return nil
}

// Finalize pads the last partial frame with silence, encodes it, and seals
// the Ogg stream.
func (s *opusSink) Finalize() ([]byte, error) {
	if s.ogg == nil {
		return nil, fmt.Errorf("recorder: opus sink finalised before Begin")
	}

	if len(s.staging) > 0 {
		frame := make([]int16, opusFrameSize)
		copy(frame, s.staging)
		s.staging = s.staging[:0]
		if err := s.encodeFrame(frame); err != nil {
			return nil, err
		}
	}

	data := s.ogg.close()
	s.ogg = nil
	return data, nil
}

func (s *opusSink) encodeFrame(frame []int16) error {
	packet, err := s.enc.Encode(frame, opusFrameSize, opusMaxPacket)
	if err != nil {
		return fmt.Errorf("recorder: opus encode: %w", err)
	}
	s.granule += opusFrameSize
	s.ogg.writePacket(packet, s.granule)
	return nil
}

// opusHead builds the RFC 7845 identification header for mono audio.
func opusHead() []byte {
	h := make([]byte, 19)
	copy(h, "OpusHead")
	h[8] = 1 // version
	h[9] = 1 // channel count
	binary.LittleEndian.PutUint16(h[10:], opusPreskip)
	binary.LittleEndian.PutUint32(h[12:], opusSampleRate)
	// output gain 0, mapping family 0
	return h
}

// opusTags builds the RFC 7845 comment header.
func opusTags() []byte {
	const vendor = "harmonylab"
	t := make([]byte, 0, 8+4+len(vendor)+4)
	t = append(t, "OpusTags"...)
	t = binary.LittleEndian.AppendUint32(t, uint32(len(vendor)))
	t = append(t, vendor...)
	t = binary.LittleEndian.AppendUint32(t, 0) // comment count
	return t
}

// wavSink accumulates the bus and renders a 16-bit PCM WAV on finalise.
type wavSink struct {
	sampleRate int
	samples    []float64
	begun      bool
}

func (s *wavSink) Extension() string { return "wav" }
func (s *wavSink) MIME() string      { return "audio/wav" }

func (s *wavSink) Begin() error {
	s.samples = s.samples[:0]
	s.begun = true
	return nil
}

func (s *wavSink) Write(block []float64) error {
	if !s.begun {
		return fmt.Errorf("recorder: wav sink written before Begin")
	}
	s.samples = append(s.samples, block...)
	return nil
}

func (s *wavSink) Finalize() ([]byte, error) {
	if !s.begun {
		return nil, fmt.Errorf("recorder: wav sink finalised before Begin")
	}
	s.begun = false
	return wavio.Encode(s.samples, s.sampleRate)
}
