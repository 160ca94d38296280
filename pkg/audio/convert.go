package audio

// Conversion helpers between the engine's mono float64 blocks and the
// int16 PCM layouts used by file decoders and capture hardware. All int16
// data is little-endian.

// Int16ToFloat64 converts int16 PCM samples to float64 in [-1, 1).
func Int16ToFloat64(pcm []int16) []float64 {
	out := make([]float64, len(pcm))
	for i, s := range pcm {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// Float64ToInt16 converts float64 samples in [-1, 1] to int16 PCM,
// clamping out-of-range values.
func Float64ToInt16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// StereoToMono averages interleaved L/R sample pairs into a mono signal.
// A trailing unpaired sample is dropped.
func StereoToMono(interleaved []float64) []float64 {
	frames := len(interleaved) / 2
	out := make([]float64, frames)
	for i := range frames {
		out[i] = 0.5 * (interleaved[i*2] + interleaved[i*2+1])
	}
	return out
}

// MonoToStereo duplicates each mono sample into an interleaved L/R pair.
func MonoToStereo(mono []float64) []float64 {
	out := make([]float64, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match (or either is non-positive), the input
// is returned unchanged.
func Resample(in []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 {
		return in
	}
	if srcRate == dstRate || len(in) < 2 {
		return in
	}
	dstLen := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float64, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := in[srcIdx]
		s1 := s0
		if srcIdx+1 < len(in) {
			s1 = in[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Clamp limits v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
