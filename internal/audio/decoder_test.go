package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	in := sine(1600, 16000, 440)

	data, err := EncodeWAV(in, 16000)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, DetectFormat(data))

	pcm, err := NewDecoder(0).Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, pcm.SampleRate)
	require.Len(t, pcm.Samples, len(in))
	for i := range in {
		assert.InDelta(t, in[i], pcm.Samples[i], 0.001)
	}
	assert.Equal(t, 100*time.Millisecond, pcm.Duration())
}

func TestDecodeResamplesToTarget(t *testing.T) {
	data, err := EncodeWAV(sine(2400, 24000, 220), 24000)
	require.NoError(t, err)

	pcm, err := NewDecoder(16000).Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, pcm.SampleRate)
	assert.Len(t, pcm.Samples, 1600)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	d := NewDecoder(16000)

	_, err := d.Decode(nil)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = d.Decode([]byte("<html>not found</html>"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatMP3, DetectFormat([]byte("ID3\x04rest")))
	assert.Equal(t, FormatMP3, DetectFormat([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.Equal(t, FormatUnknown, DetectFormat([]byte("ab")))
	assert.Equal(t, FormatUnknown, DetectFormat([]byte("{\"a\":1}")))
}

func TestResample(t *testing.T) {
	out, err := Resample([]float32{0, 1, 0, -1}, 8000, 16000)
	require.NoError(t, err)
	assert.Len(t, out, 8)
	assert.InDelta(t, 0.5, out[1], 1e-6)

	same, err := Resample([]float32{0.1, 0.2}, 16000, 16000)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, same)

	_, err = Resample([]float32{0}, 0, 16000)
	assert.Error(t, err)
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5}), 1e-9)
}

func TestLinearPCM(t *testing.T) {
	b := LinearPCM([]float32{0, 1, -1})
	require.Len(t, b, 6)
	assert.Equal(t, []byte{0, 0}, b[:2])
	assert.Equal(t, []byte{0xFF, 0x7F}, b[2:4])
}
