package audio_test

import (
	"math"
	"testing"

	"github.com/harmonylab/harmonylab/pkg/audio"
)

func TestInt16Float64RoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 16384, -16384, 32767, -32768}
	out := audio.Float64ToInt16(audio.Int16ToFloat64(in))
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("round trip [%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestFloat64ToInt16Clamps(t *testing.T) {
	t.Parallel()

	out := audio.Float64ToInt16([]float64{2.0, -2.0})
	if out[0] != 32767 {
		t.Errorf("clamp high = %d, want 32767", out[0])
	}
	if out[1] != -32768 {
		t.Errorf("clamp low = %d, want -32768", out[1])
	}
}

func TestStereoMonoRoundTrip(t *testing.T) {
	t.Parallel()

	mono := []float64{0.1, -0.2, 0.3, 0}
	got := audio.StereoToMono(audio.MonoToStereo(mono))
	if len(got) != len(mono) {
		t.Fatalf("len = %d, want %d", len(got), len(mono))
	}
	for i := range mono {
		if math.Abs(got[i]-mono[i]) > 1e-12 {
			t.Errorf("sample %d = %v, want %v", i, got[i], mono[i])
		}
	}
}

func TestStereoToMonoAverages(t *testing.T) {
	t.Parallel()

	got := audio.StereoToMono([]float64{0.25, 0.75, -1, 1, 0.5})
	want := []float64{0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (trailing unpaired sample dropped)", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("same rate passthrough", func(t *testing.T) {
		t.Parallel()
		in := []float64{1, 2, 3}
		if got := audio.Resample(in, 48000, 48000); len(got) != 3 || got[0] != 1 {
			t.Errorf("Resample(same rate) = %v, want input unchanged", got)
		}
	})

	t.Run("halves length", func(t *testing.T) {
		t.Parallel()
		in := make([]float64, 960)
		got := audio.Resample(in, 48000, 24000)
		if len(got) != 480 {
			t.Errorf("len = %d, want 480", len(got))
		}
	})

	t.Run("preserves a constant", func(t *testing.T) {
		t.Parallel()
		in := make([]float64, 441)
		for i := range in {
			in[i] = 0.7
		}
		for _, s := range audio.Resample(in, 44100, 48000) {
			if math.Abs(s-0.7) > 1e-12 {
				t.Fatalf("sample = %v, want 0.7", s)
			}
		}
	})
}

func TestClamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		v, lo, hi, want float64
	}{
		{0.5, 0, 1, 0.5},
		{-1, 0, 1, 0},
		{2, 0, 1, 1},
	}
	for _, tc := range cases {
		if got := audio.Clamp(tc.v, tc.lo, tc.hi); got != tc.want {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v", tc.v, tc.lo, tc.hi, got, tc.want)
		}
	}
}
