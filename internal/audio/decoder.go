package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tosone/minimp3"
	"github.com/youpy/go-wav"
)

// ErrDecode is returned for audio that cannot be decoded.
var ErrDecode = errors.New("audio decode failed")

// PCM is mono float32 audio in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playing time of p.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// Format of an encoded clip.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = "unknown"
)

// Decoder turns fetched WAV or MP3 clips into PCM at a fixed output rate.
type Decoder struct {
	targetRate int
}

// NewDecoder returns a decoder resampling to targetRate. Zero keeps the
// source rate.
func NewDecoder(targetRate int) *Decoder {
	return &Decoder{targetRate: targetRate}
}

// Decode sniffs the container and decodes data. Unknown data is tried as
// WAV, then as MP3.
func (d *Decoder) Decode(data []byte) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, fmt.Errorf("%w: empty input", ErrDecode)
	}

	var (
		pcm PCM
		err error
	)
	switch DetectFormat(data) {
	case FormatWAV:
		pcm, err = decodeWAV(data)
	case FormatMP3:
		pcm, err = decodeMP3(data)
	default:
		pcm, err = decodeWAV(data)
		if err != nil {
			pcm, err = decodeMP3(data)
		}
	}
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(pcm.Samples) == 0 {
		return PCM{}, fmt.Errorf("%w: no samples", ErrDecode)
	}

	if d.targetRate > 0 && pcm.SampleRate != d.targetRate {
		samples, err := Resample(pcm.Samples, pcm.SampleRate, d.targetRate)
		if err != nil {
			return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		pcm = PCM{Samples: samples, SampleRate: d.targetRate}
	}
	return pcm, nil
}

// DetectFormat inspects the leading bytes of data.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}
	if bytes.Equal(data[:4], []byte("RIFF")) {
		return FormatWAV
	}
	if bytes.Equal(data[:3], []byte("ID3")) {
		return FormatMP3
	}
	// MPEG frame sync
	if data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return FormatMP3
	}
	return FormatUnknown
}

func decodeWAV(data []byte) (PCM, error) {
	r := wav.NewReader(bytes.NewReader(data))

	format, err := r.Format()
	if err != nil {
		return PCM{}, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.NumChannels == 0 {
		return PCM{}, fmt.Errorf("WAV has no channels")
	}

	var samples []float32
	for {
		chunk, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, fmt.Errorf("failed to read WAV samples: %w", err)
		}
		for _, s := range chunk {
			v := r.FloatValue(s, 0)
			if format.NumChannels == 2 {
				v = (v + r.FloatValue(s, 1)) / 2
			}
			samples = append(samples, clamp(float32(v)))
		}
	}

	return PCM{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

func decodeMP3(data []byte) (PCM, error) {
	dec, raw, err := minimp3.DecodeFull(data)
	if err != nil {
		return PCM{}, fmt.Errorf("failed to decode MP3: %w", err)
	}
	defer dec.Close()

	channels := dec.Channels
	if channels <= 0 {
		return PCM{}, fmt.Errorf("MP3 has no channels")
	}

	frames := len(raw) / (2 * channels)
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			v := int16(uint16(raw[off]) | uint16(raw[off+1])<<8)
			sum += float32(v) / 32768.0
		}
		samples[i] = clamp(sum / float32(channels))
	}

	return PCM{Samples: samples, SampleRate: dec.SampleRate}, nil
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
