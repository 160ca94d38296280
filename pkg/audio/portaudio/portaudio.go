// Package portaudio adapts the PortAudio host API to the [audio.Platform]
// interface. Capture and playback run in blocking mode: the engine's pump
// goroutine paces itself against the device clock via ReadBlock/WriteBlock.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/harmonylab/harmonylab/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform is the PortAudio-backed [audio.Platform]. Create one per process
// with [New] and release it with Close on shutdown.
type Platform struct {
	mu     sync.Mutex
	closed bool
}

// New initialises the PortAudio library and returns a [Platform].
func New() (*Platform, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Platform{}, nil
}

// Devices returns all devices with at least one input channel. Device IDs are
// the PortAudio device names; PortAudio device indices are not stable across
// replugs, names are the closest thing to an identifier the API offers.
func (p *Platform) Devices() ([]audio.Device, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	def, err := pa.DefaultInputDevice()
	if err != nil {
		def = nil // no default input is not fatal for enumeration
	}

	var out []audio.Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		out = append(out, audio.Device{
			ID:      info.Name,
			Label:   info.Name,
			Default: def != nil && info.Name == def.Name,
		})
	}
	return out, nil
}

// OpenCapture opens a mono blocking capture stream on the named device
// ("" selects the system default input).
func (p *Platform) OpenCapture(ctx context.Context, deviceID string, format audio.Format, blockSize int) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := p.findInputDevice(deviceID)
	if err != nil {
		return nil, err
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = blockSize

	buf := make([]float32, blockSize)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open capture on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start capture on %q: %w", dev.Name, err)
	}

	return &captureStream{stream: stream, buf: buf}, nil
}

// OpenPlayback opens a mono blocking playback stream on the default output.
func (p *Platform) OpenPlayback(format audio.Format, blockSize int) (audio.PlaybackStream, error) {
	dev, err := pa.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default output device: %w", err)
	}

	params := pa.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = blockSize

	buf := make([]float32, blockSize)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open playback on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start playback on %q: %w", dev.Name, err)
	}

	return &playbackStream{stream: stream, buf: buf}, nil
}

// Close terminates the PortAudio library. Idempotent.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// findInputDevice resolves deviceID to a PortAudio device info, or the
// default input device when deviceID is empty.
func (p *Platform) findInputDevice(deviceID string) (*pa.DeviceInfo, error) {
	if deviceID == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.Name == deviceID && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device named %q", deviceID)
}

// captureStream wraps a blocking PortAudio input stream.
type captureStream struct {
	stream *pa.Stream
	buf    []float32

	mu     sync.Mutex
	closed bool
}

func (c *captureStream) ReadBlock(out []float64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("portaudio: capture stream closed")
	}
	c.mu.Unlock()

	if err := c.stream.Read(); err != nil {
		return fmt.Errorf("portaudio: read: %w", err)
	}
	n := min(len(out), len(c.buf))
	for i := 0; i < n; i++ {
		out[i] = float64(c.buf[i])
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return nil
}

func (c *captureStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.stream.Stop()
	return c.stream.Close()
}

// playbackStream wraps a blocking PortAudio output stream.
type playbackStream struct {
	stream *pa.Stream
	buf    []float32

	mu     sync.Mutex
	closed bool
}

func (p *playbackStream) WriteBlock(block []float64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("portaudio: playback stream closed")
	}
	p.mu.Unlock()

	n := min(len(block), len(p.buf))
	for i := 0; i < n; i++ {
		p.buf[i] = float32(block[i])
	}
	for i := n; i < len(p.buf); i++ {
		p.buf[i] = 0
	}
	if err := p.stream.Write(); err != nil {
		return fmt.Errorf("portaudio: write: %w", err)
	}
	return nil
}

func (p *playbackStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.stream.Stop()
	return p.stream.Close()
}
