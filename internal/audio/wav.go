package audio

import (
	"bytes"
	"fmt"

	"github.com/youpy/go-wav"
)

// EncodeWAV renders mono samples as 16-bit PCM WAV, the upload format of
// the transcribers.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), 1, uint32(sampleRate), 16)

	out := make([]wav.Sample, len(samples))
	for i, s := range samples {
		out[i].Values[0] = int(clamp(s) * 32767)
	}
	if err := w.WriteSamples(out); err != nil {
		return nil, fmt.Errorf("failed to write WAV samples: %w", err)
	}
	return buf.Bytes(), nil
}

// LinearPCM converts samples to little-endian 16-bit PCM without a header.
func LinearPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := uint16(int16(clamp(s) * 32767))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
