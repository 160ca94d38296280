// Package audio defines the interfaces and types for audio capture and
// playback connectivity within HarmonyLab.
//
// The two primary abstractions are:
//
//   - [Platform] — enumerates capture devices and opens capture/playback streams.
//   - [CaptureStream] / [PlaybackStream] — blocking block-oriented streams of
//     mono float64 samples at the engine sample rate.
//
// Implementations are provided by platform-specific adapter packages
// (e.g. audio/portaudio). The interfaces are intentionally narrow so the
// engine stays decoupled from host-API details.
//
// This package lives under pkg/ because external code (alternative platform
// adapters, test doubles) is expected to implement [Platform].
package audio

import "context"

// CaptureStream delivers blocks of captured audio from one input device.
//
// A CaptureStream is obtained from [Platform.OpenCapture] and remains valid
// until [CaptureStream.Close] is called. Implementations must tolerate Close
// racing with a blocked ReadBlock: the read returns an error and no goroutine
// is leaked.
type CaptureStream interface {
	// ReadBlock fills out with the next len(out) mono samples, blocking until
	// a full block has been captured. Returns an error once the stream is
	// closed or the device disappears.
	ReadBlock(out []float64) error

	// Close stops capture and releases the device handle. Safe to call more
	// than once; subsequent calls are no-ops and return nil.
	Close() error
}

// PlaybackStream accepts blocks of audio for the monitor output.
type PlaybackStream interface {
	// WriteBlock queues block for playback, blocking until the host API has
	// accepted it. Returns an error once the stream is closed.
	WriteBlock(block []float64) error

	// Close stops playback and releases the device handle. Safe to call more
	// than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Platform is the entry point for a host audio API.
// Implementations wrap host-specific SDKs (PortAudio, test doubles, …) and
// expose uniform stream abstractions.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Devices returns the current list of capture devices. The default device
	// is flagged; callers pass a [Device.ID] (or "" for the default) to
	// OpenCapture.
	Devices() ([]Device, error)

	// OpenCapture opens a mono capture stream on the device identified by
	// deviceID ("" selects the system default). The supplied ctx governs the
	// lifetime of the open attempt only — permission prompts and device
	// negotiation — not the resulting stream.
	//
	// Returns an error if the device is unknown, busy, or access is denied.
	OpenCapture(ctx context.Context, deviceID string, format Format, blockSize int) (CaptureStream, error)

	// OpenPlayback opens a mono playback stream on the default output device.
	OpenPlayback(format Format, blockSize int) (PlaybackStream, error)

	// Close releases the host API. No streams may be used afterwards.
	Close() error
}
