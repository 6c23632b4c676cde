package feature

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
)

// stftWorkspace holds the FFT plan and scratch buffers reused across frames.
type stftWorkspace struct {
	fft    *fourier.FFT
	window []float64
	buf    []float64
	coeffs []complex128
}

func newSTFTWorkspace(nFFT int) *stftWorkspace {
	return &stftWorkspace{
		fft:    fourier.NewFFT(nFFT),
		window: HannWindow(nFFT),
		buf:    make([]float64, nFFT),
		coeffs: make([]complex128, nFFT/2+1),
	}
}

// powerInto windows frame, transforms it and writes |X|^2 into dst.
func (ws *stftWorkspace) powerInto(frame, dst []float64) {
	for i, v := range frame {
		ws.buf[i] = v * ws.window[i]
	}
	ws.coeffs = ws.fft.Coefficients(ws.coeffs, ws.buf)
	for i, c := range ws.coeffs {
		r, im := real(c), imag(c)
		dst[i] = r*r + im*im
	}
}

// PowerSpectrogram computes the centred short-time power spectrum.
// Returns [numFrames][nFFT/2+1].
func PowerSpectrogram(samples []float64, nFFT, hop int) ([][]float64, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty samples")
	}
	if nFFT <= 0 || hop <= 0 {
		return nil, errors.Errorf("invalid STFT parameters n_fft=%d hop=%d", nFFT, hop)
	}

	frames := Frame(PadCenter(samples, nFFT/2), nFFT, hop)
	nBins := nFFT/2 + 1

	ws := newSTFTWorkspace(nFFT)
	spec := make([][]float64, len(frames))
	flat := make([]float64, len(frames)*nBins)
	for t, frame := range frames {
		row := flat[t*nBins : (t+1)*nBins]
		ws.powerInto(frame, row)
		spec[t] = row
	}
	return spec, nil
}
