package feature

import (
	"github.com/pkg/errors"
)

// Config holds all feature extraction parameters.
type Config struct {
	NFFT      int     `mapstructure:"n_fft" yaml:"n_fft"`
	HopLength int     `mapstructure:"hop_length" yaml:"hop_length"`
	NumMFCC   int     `mapstructure:"n_mfcc" yaml:"n_mfcc"`
	NumMels   int     `mapstructure:"n_mels" yaml:"n_mels"`
	NumChroma int     `mapstructure:"n_chroma" yaml:"n_chroma"`
	FMin      float64 `mapstructure:"fmin" yaml:"fmin"`
	FMax      float64 `mapstructure:"fmax" yaml:"fmax"` // <= 0 means Nyquist
	TopDB     float64 `mapstructure:"top_db" yaml:"top_db"`

	MFCC   bool `mapstructure:"mfcc" yaml:"mfcc"`
	Chroma bool `mapstructure:"chroma" yaml:"chroma"`
	Mel    bool `mapstructure:"mel" yaml:"mel"`

	// TargetSampleRate resamples clips before extraction. 0 keeps the
	// native rate.
	TargetSampleRate int `mapstructure:"target_sample_rate" yaml:"target_sample_rate"`
}

// DefaultConfig returns the 180-dimensional MFCC+chroma+mel configuration.
func DefaultConfig() Config {
	return Config{
		NFFT:      2048,
		HopLength: 512,
		NumMFCC:   40,
		NumMels:   128,
		NumChroma: 12,
		FMin:      0,
		FMax:      0,
		TopDB:     80,
		MFCC:      true,
		Chroma:    true,
		Mel:       true,
	}
}

// Dim returns the length of the summary vector.
func (c Config) Dim() int {
	d := 0
	if c.MFCC {
		d += c.NumMFCC
	}
	if c.Chroma {
		d += c.NumChroma
	}
	if c.Mel {
		d += c.NumMels
	}
	return d
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch {
	case c.NFFT <= 0 || c.HopLength <= 0:
		return errors.Errorf("invalid STFT parameters n_fft=%d hop=%d", c.NFFT, c.HopLength)
	case !c.MFCC && !c.Chroma && !c.Mel:
		return errors.New("no feature enabled")
	case c.MFCC && (c.NumMFCC <= 0 || c.NumMFCC > c.NumMels):
		return errors.Errorf("n_mfcc=%d must be in 1..n_mels(%d)", c.NumMFCC, c.NumMels)
	case (c.MFCC || c.Mel) && c.NumMels <= 0:
		return errors.Errorf("invalid n_mels=%d", c.NumMels)
	case c.Chroma && c.NumChroma <= 0:
		return errors.Errorf("invalid n_chroma=%d", c.NumChroma)
	}
	return nil
}

// Set holds per-frame feature matrices, each [numFrames][dim]. Disabled
// features are nil.
type Set struct {
	MFCC   [][]float64
	Chroma [][]float64
	Mel    [][]float64
}

// NumFrames returns the number of analysis frames.
func (s *Set) NumFrames() int {
	for _, m := range [][][]float64{s.MFCC, s.Chroma, s.Mel} {
		if m != nil {
			return len(m)
		}
	}
	return 0
}

// Summary concatenates the per-frame means in MFCC, chroma, mel order.
func (s *Set) Summary() []float64 {
	var out []float64
	for _, m := range [][][]float64{s.MFCC, s.Chroma, s.Mel} {
		if m != nil {
			out = append(out, frameMean(m)...)
		}
	}
	return out
}

func frameMean(m [][]float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	mean := make([]float64, len(m[0]))
	for _, row := range m {
		for j, v := range row {
			mean[j] += v
		}
	}
	inv := 1 / float64(len(m))
	for j := range mean {
		mean[j] *= inv
	}
	return mean
}

// Extract computes the enabled feature matrices for a mono clip.
func Extract(samples []float64, sampleRate int, cfg Config) (*Set, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty samples")
	}
	if sampleRate <= 0 {
		return nil, errors.Errorf("invalid sample rate %d", sampleRate)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	power, err := PowerSpectrogram(samples, cfg.NFFT, cfg.HopLength)
	if err != nil {
		return nil, err
	}
	nFrames := len(power)
	set := &Set{}

	if cfg.MFCC || cfg.Mel {
		melFB := NewMelFilterbank(cfg.NumMels, cfg.NFFT, sampleRate, cfg.FMin, cfg.FMax)
		mel := applyAll(melFB, power)
		if cfg.Mel {
			set.Mel = mel
		}
		if cfg.MFCC {
			logMel := mel
			if cfg.Mel {
				logMel = cloneMatrix(mel)
			}
			PowerToDB(logMel, cfg.TopDB)
			dct := newDCTTable(cfg.NumMFCC, cfg.NumMels)
			mfcc := make([][]float64, nFrames)
			flat := make([]float64, nFrames*cfg.NumMFCC)
			for t, row := range logMel {
				cep := flat[t*cfg.NumMFCC : (t+1)*cfg.NumMFCC]
				dct.applyInto(row, cep)
				mfcc[t] = cep
			}
			set.MFCC = mfcc
		}
	}

	if cfg.Chroma {
		chromaFB := NewChromaFilterbank(cfg.NumChroma, cfg.NFFT, sampleRate)
		chroma := applyAll(chromaFB, power)
		for _, row := range chroma {
			normalizeMax(row)
		}
		set.Chroma = chroma
	}
	return set, nil
}

// Summarize extracts features and returns the summary vector.
func Summarize(samples []float64, sampleRate int, cfg Config) ([]float64, error) {
	set, err := Extract(samples, sampleRate, cfg)
	if err != nil {
		return nil, err
	}
	return set.Summary(), nil
}

func applyAll(fb *Filterbank, power [][]float64) [][]float64 {
	n := fb.Size()
	out := make([][]float64, len(power))
	flat := make([]float64, len(power)*n)
	for t, ps := range power {
		row := flat[t*n : (t+1)*n]
		fb.applyInto(ps, row)
		out[t] = row
	}
	return out
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
