package audio

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Device describes one capture device as reported by the platform.
// The zero ID selects the system default device.
type Device struct {
	// ID is the platform-specific device identifier. An empty string means
	// the system default input device.
	ID string

	// Label is the human-readable device name shown in a chooser.
	Label string

	// Default reports whether this is the system default input device.
	Default bool
}
