package feature

import "math"

const (
	chromaA0       = 27.5 // Hz, reference for octave numbering
	chromaCtrOct   = 5.0
	chromaOctWidth = 2.0
)

// NewChromaFilterbank maps STFT bins onto numChroma pitch classes, starting
// at C. Each bin spreads a Gaussian bump over neighbouring classes, columns
// are L2-normalised, and a Gaussian octave weighting centred on octave 5
// de-emphasises very low and very high bins. Tuning deviation is fixed at 0.
func NewChromaFilterbank(numChroma, nFFT, sampleRate int) *Filterbank {
	nc := float64(numChroma)

	// bin 0 (DC) borrows its position from bin 1, 1.5 octaves lower
	frqBins := make([]float64, nFFT)
	for k := 1; k < nFFT; k++ {
		f := float64(k) * float64(sampleRate) / float64(nFFT)
		frqBins[k] = nc * math.Log2(f/chromaA0)
	}
	frqBins[0] = frqBins[1] - 1.5*nc

	binWidth := make([]float64, nFFT)
	for k := 0; k < nFFT-1; k++ {
		binWidth[k] = math.Max(frqBins[k+1]-frqBins[k], 1)
	}
	binWidth[nFFT-1] = 1

	half := math.Round(nc / 2)
	wts := make([][]float64, numChroma)
	for c := range wts {
		wts[c] = make([]float64, nFFT)
	}
	for k := 0; k < nFFT; k++ {
		norm := 0.0
		for c := 0; c < numChroma; c++ {
			d := frqBins[k] - float64(c)
			d = pyRemainder(d+half+10*nc, nc) - half
			w := math.Exp(-0.5 * math.Pow(2*d/binWidth[k], 2))
			wts[c][k] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if norm < 1e-300 {
			continue
		}
		octW := math.Exp(-0.5 * math.Pow((frqBins[k]/nc-chromaCtrOct)/chromaOctWidth, 2))
		for c := 0; c < numChroma; c++ {
			wts[c][k] = wts[c][k] / norm * octW
		}
	}

	// rotate so row 0 is C rather than A
	shift := 3 * numChroma / 12
	nBins := nFFT/2 + 1
	filters := make([][]float64, numChroma)
	for c := range filters {
		filters[c] = wts[(c+shift)%numChroma][:nBins:nBins]
	}
	return newFilterbank(filters)
}

// pyRemainder returns x mod m with the sign of m.
func pyRemainder(x, m float64) float64 {
	r := math.Mod(x, m)
	if r != 0 && (r < 0) != (m < 0) {
		r += m
	}
	return r
}

// normalizeMax scales v so its largest value is 1. Frames whose peak is
// tiny are left untouched.
func normalizeMax(v []float64) {
	peak := 0.0
	for _, x := range v {
		if math.Abs(x) > peak {
			peak = math.Abs(x)
		}
	}
	if peak < 1e-300 {
		return
	}
	for i := range v {
		v[i] /= peak
	}
}
