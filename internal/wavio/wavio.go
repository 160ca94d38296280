// Package wavio decodes and encodes WAV audio in memory. Decoding downmixes
// to mono float64 in [-1, 1]; encoding produces 16-bit PCM suitable for
// serving as a downloadable take.
package wavio

import (
	"bytes"
	"fmt"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"

	"github.com/harmonylab/harmonylab/pkg/audio"
)

// Decode parses WAV data and returns the samples downmixed to mono float64
// along with the source sample rate. The decoder delivers samples already
// normalised to [-1, 1]; only the channel downmix happens here.
func Decode(data []byte) ([]float64, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("wavio: not a valid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("wavio: decode PCM: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("wavio: malformed PCM buffer")
	}

	ch := buf.Format.NumChannels
	interleaved := make([]float64, len(buf.Data))
	for i, s := range buf.Data {
		interleaved[i] = float64(s)
	}

	var out []float64
	switch ch {
	case 1:
		out = interleaved
	case 2:
		out = audio.StereoToMono(interleaved)
	default:
		frames := len(interleaved) / ch
		out = make([]float64, frames)
		for i := range frames {
			var sum float64
			for c := 0; c < ch; c++ {
				sum += interleaved[i*ch+c]
			}
			out[i] = sum / float64(ch)
		}
	}
	return out, buf.Format.SampleRate, nil
}

// Encode renders mono float64 samples as a 16-bit PCM WAV file in memory.
func Encode(samples []float64, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wavio: sample rate must be positive: %d", sampleRate)
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)

	data := make([]float32, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = float32(s)
	}

	buf := &goaudio.Float32Buffer{
		Format: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wavio: encode PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wavio: finalise container: %w", err)
	}
	return ws.Bytes(), nil
}
