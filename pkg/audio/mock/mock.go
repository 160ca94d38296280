// Package mock provides scriptable test doubles for the audio platform
// interfaces. Capture streams deliver a configurable waveform; every open and
// close is counted so tests can assert on lifecycle behaviour.
package mock

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/harmonylab/harmonylab/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform       = (*Platform)(nil)
	_ audio.CaptureStream  = (*CaptureStream)(nil)
	_ audio.PlaybackStream = (*PlaybackStream)(nil)
)

// Platform is an in-memory [audio.Platform]. The zero value is usable: it
// reports a single default device and opens silent capture streams.
type Platform struct {
	mu sync.Mutex

	// DeviceList is returned by Devices. When nil, a single default device
	// with ID "" is reported.
	DeviceList []audio.Device

	// OpenErr, when non-nil, is returned by every OpenCapture call. Used to
	// simulate permission denial or busy devices.
	OpenErr error

	// ToneHz, when non-zero, makes capture streams produce a sine at this
	// frequency instead of silence.
	ToneHz float64

	// OnOpenCapture, when non-nil, runs at the start of every OpenCapture
	// call, before the stream is created. Tests use it to interleave a
	// concurrent stop with an in-flight start.
	OnOpenCapture func()

	opened []*CaptureStream
	closed bool
}

// Devices returns the scripted device list.
func (p *Platform) Devices() ([]audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.DeviceList == nil {
		return []audio.Device{{ID: "", Label: "Mock Input", Default: true}}, nil
	}
	out := make([]audio.Device, len(p.DeviceList))
	copy(out, p.DeviceList)
	return out, nil
}

// OpenCapture opens a scripted capture stream.
func (p *Platform) OpenCapture(ctx context.Context, deviceID string, format audio.Format, blockSize int) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.OnOpenCapture != nil {
		p.OnOpenCapture()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	cs := &CaptureStream{
		DeviceID: deviceID,
		toneHz:   p.ToneHz,
		rate:     format.SampleRate,
	}
	p.opened = append(p.opened, cs)
	return cs, nil
}

// OpenPlayback returns a sink that discards all blocks.
func (p *Platform) OpenPlayback(format audio.Format, blockSize int) (audio.PlaybackStream, error) {
	return &PlaybackStream{}, nil
}

// Close marks the platform closed.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// OpenStreams returns every capture stream ever opened, in order.
func (p *Platform) OpenStreams() []*CaptureStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*CaptureStream, len(p.opened))
	copy(out, p.opened)
	return out
}

// LiveStreams returns the number of capture streams opened and not yet closed.
func (p *Platform) LiveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, cs := range p.opened {
		if !cs.Closed() {
			n++
		}
	}
	return n
}

// CaptureStream is a scripted capture stream producing silence or a sine.
type CaptureStream struct {
	// DeviceID records the ID the stream was opened with.
	DeviceID string

	toneHz float64
	rate   int

	mu     sync.Mutex
	phase  float64
	closed bool
}

// ReadBlock fills out with the scripted waveform.
func (c *CaptureStream) ReadBlock(out []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("mock: capture stream closed")
	}
	if c.toneHz == 0 || c.rate == 0 {
		for i := range out {
			out[i] = 0
		}
		return nil
	}
	step := 2 * math.Pi * c.toneHz / float64(c.rate)
	for i := range out {
		out[i] = 0.5 * math.Sin(c.phase)
		c.phase += step
	}
	return nil
}

// Close marks the stream closed. Idempotent.
func (c *CaptureStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *CaptureStream) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// PlaybackStream discards every block written to it.
type PlaybackStream struct {
	mu     sync.Mutex
	blocks int
}

// WriteBlock counts and discards block.
func (p *PlaybackStream) WriteBlock(block []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks++
	return nil
}

// Close is a no-op.
func (p *PlaybackStream) Close() error { return nil }

// Blocks returns the number of blocks written so far.
func (p *PlaybackStream) Blocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocks
}
