package feature

import "math"

// sparseFilter stores only the non-zero range of a filter row.
type sparseFilter struct {
	start  int       // first non-zero bin index
	coeffs []float64 // non-zero coefficient values
}

// Filterbank is a dense [numFilters][nFFT/2+1] weight matrix with a sparse
// copy used by the inner loop.
type Filterbank struct {
	Filters [][]float64
	sparse  []sparseFilter
}

func newFilterbank(filters [][]float64) *Filterbank {
	fb := &Filterbank{Filters: filters, sparse: make([]sparseFilter, len(filters))}
	for i, f := range filters {
		start, end := 0, 0
		found := false
		for j, v := range f {
			if v != 0 {
				if !found {
					start = j
					found = true
				}
				end = j + 1
			}
		}
		if found {
			fb.sparse[i] = sparseFilter{start: start, coeffs: make([]float64, end-start)}
			copy(fb.sparse[i].coeffs, f[start:end])
		}
	}
	return fb
}

// Size returns the number of filters.
func (fb *Filterbank) Size() int { return len(fb.sparse) }

func (fb *Filterbank) applyInto(powerSpec, dst []float64) {
	for i, sf := range fb.sparse {
		sum := 0.0
		end := sf.start + len(sf.coeffs)
		if end > len(powerSpec) {
			end = len(powerSpec)
		}
		if sf.start >= end {
			dst[i] = 0
			continue
		}
		ps := powerSpec[sf.start:end]
		coeffs := sf.coeffs[:len(ps)]
		for j, p := range ps {
			sum += p * coeffs[j]
		}
		dst[i] = sum
	}
}

// NewMelFilterbank builds Slaney-normalised triangular filters on the Slaney
// mel scale. highFreq <= 0 means the Nyquist frequency.
func NewMelFilterbank(numFilters, nFFT, sampleRate int, lowFreq, highFreq float64) *Filterbank {
	if highFreq <= 0 {
		highFreq = float64(sampleRate) / 2
	}
	nBins := nFFT/2 + 1

	fftFreqs := make([]float64, nBins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}

	lowMel, highMel := HzToMel(lowFreq), HzToMel(highFreq)
	melF := make([]float64, numFilters+2)
	for i := range melF {
		melF[i] = MelToHz(lowMel + float64(i)*(highMel-lowMel)/float64(numFilters+1))
	}

	filters := make([][]float64, numFilters)
	for i := 0; i < numFilters; i++ {
		row := make([]float64, nBins)
		lowerWidth := melF[i+1] - melF[i]
		upperWidth := melF[i+2] - melF[i+1]
		enorm := 2.0 / (melF[i+2] - melF[i])
		for k, f := range fftFreqs {
			lower := (f - melF[i]) / lowerWidth
			upper := (melF[i+2] - f) / upperWidth
			w := math.Min(lower, upper)
			if w > 0 {
				row[k] = w * enorm
			}
		}
		filters[i] = row
	}
	return newFilterbank(filters)
}

const (
	melFSp       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

// HzToMel converts Hz to the Slaney mel scale: linear below 1 kHz,
// logarithmic above.
func HzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSp
}

// MelToHz is the inverse of HzToMel.
func MelToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return mel * melFSp
}

// PowerToDB converts a [frames][bands] power matrix to decibels in place
// relative to 1.0, with a floor of 1e-10 and clipping to topDB below the
// global peak. topDB <= 0 disables clipping.
func PowerToDB(s [][]float64, topDB float64) {
	peak := math.Inf(-1)
	for _, row := range s {
		for j, v := range row {
			if v < 1e-10 {
				v = 1e-10
			}
			row[j] = 10 * math.Log10(v)
			if row[j] > peak {
				peak = row[j]
			}
		}
	}
	if topDB <= 0 {
		return
	}
	floor := peak - topDB
	for _, row := range s {
		for j, v := range row {
			if v < floor {
				row[j] = floor
			}
		}
	}
}

// dctTable holds the orthonormal DCT-II basis truncated to numCepstra rows.
type dctTable struct {
	cos [][]float64 // [numCepstra][numFilters]
}

func newDCTTable(numCepstra, numFilters int) *dctTable {
	t := &dctTable{cos: make([][]float64, numCepstra)}
	n := float64(numFilters)
	for k := 0; k < numCepstra; k++ {
		scale := math.Sqrt(2 / n)
		if k == 0 {
			scale = math.Sqrt(1 / n)
		}
		t.cos[k] = make([]float64, numFilters)
		for j := 0; j < numFilters; j++ {
			t.cos[k][j] = scale * math.Cos(math.Pi*float64(k)*(float64(j)+0.5)/n)
		}
	}
	return t
}

func (t *dctTable) applyInto(x, dst []float64) {
	for k, row := range t.cos {
		sum := 0.0
		for j, c := range row {
			sum += x[j] * c
		}
		dst[k] = sum
	}
}
