package audio

// Resample converts samples from one sample rate to another with linear
// interpolation. It returns the input unchanged when the rates match.
func Resample(samples []float64, from, to int) []float64 {
	if from <= 0 || to <= 0 || from == to {
		return samples
	}
	if len(samples) == 0 {
		return nil
	}
	step := float64(from) / float64(to)
	newLen := int(float64(len(samples)) * float64(to) / float64(from))
	return interpolate(samples, newLen, step)
}

// ResampleClip returns c at the target rate; a zero target keeps the native rate.
func ResampleClip(c Clip, target int) Clip {
	if target <= 0 || target == c.SampleRate {
		return c
	}
	return Clip{Samples: Resample(c.Samples, c.SampleRate, target), SampleRate: target}
}

func interpolate(samples []float64, newLen int, step float64) []float64 {
	if newLen <= 0 {
		return nil
	}
	origLen := len(samples)
	result := make([]float64, newLen)
	for i := 0; i < newLen; i++ {
		srcIdx := float64(i) * step
		idx0 := int(srcIdx)
		frac := srcIdx - float64(idx0)

		if idx0+1 < origLen {
			result[i] = samples[idx0]*(1.0-frac) + samples[idx0+1]*frac
		} else if idx0 < origLen {
			result[i] = samples[idx0]
		}
	}
	return result
}
