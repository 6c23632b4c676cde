package feature

import "math"

// PadCenter zero-pads samples by pad on both sides so frame t is centred on
// sample t*hop.
func PadCenter(samples []float64, pad int) []float64 {
	out := make([]float64, len(samples)+2*pad)
	copy(out[pad:], samples)
	return out
}

// Frame returns the full frames of length frameLen starting every hop
// samples. Frames alias samples; callers must not modify them.
func Frame(samples []float64, frameLen, hop int) [][]float64 {
	if frameLen <= 0 || hop <= 0 || len(samples) < frameLen {
		return nil
	}
	frames := make([][]float64, 0, 1+(len(samples)-frameLen)/hop)
	for start := 0; start+frameLen <= len(samples); start += hop {
		frames = append(frames, samples[start:start+frameLen:start+frameLen])
	}
	return frames
}

// HannWindow returns a periodic Hann window of length n, the variant used
// for spectral analysis.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
