package audio

import (
	"fmt"
	"math"
)

// Resample converts samples between rates by linear interpolation.
func Resample(in []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", fromRate, toRate)
	}
	if len(in) == 0 {
		return []float32{}, nil
	}
	if fromRate == toRate {
		out := make([]float32, len(in))
		copy(out, in)
		return out, nil
	}

	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(in)) / ratio)
	if n <= 0 {
		return []float32{}, nil
	}

	out := make([]float32, n)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx] + frac*(in[idx+1]-in[idx])
	}
	return out, nil
}

// RMS returns the root mean square level of a frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
