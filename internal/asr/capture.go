package asr

import (
	"context"
	"fmt"
	"time"

	"voicebridge/internal/audio"
)

// FrameSource is a started-on-demand stream of mono frames.
// audio.Microphone implements it.
type FrameSource interface {
	Start() error
	Read() ([]float32, error)
	Close() error
	SampleRate() int
}

// Capturer records one utterance. Closing stop ends the utterance early;
// whatever speech was heard is returned.
type Capturer interface {
	Capture(ctx context.Context, stop <-chan struct{}) (audio.PCM, error)
}

// CaptureConfig tunes energy endpointing.
type CaptureConfig struct {
	EnergyThreshold float64       // frame RMS that counts as speech
	SilenceHold     time.Duration // trailing silence that ends an utterance
	NoSpeechTimeout time.Duration // leading silence that fails with ErrNoSpeech
	MaxUtterance    time.Duration
}

// DefaultCaptureConfig returns the endpointing defaults.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		EnergyThreshold: 0.02,
		SilenceHold:     time.Second,
		NoSpeechTimeout: 8 * time.Second,
		MaxUtterance:    30 * time.Second,
	}
}

// EnergyCapture endpoints an utterance from a FrameSource by frame energy.
type EnergyCapture struct {
	cfg  CaptureConfig
	open func() (FrameSource, error)
}

// NewEnergyCapture creates a capturer that opens a fresh source per
// utterance, so the device is held only while listening.
func NewEnergyCapture(cfg CaptureConfig, open func() (FrameSource, error)) *EnergyCapture {
	return &EnergyCapture{cfg: cfg, open: open}
}

// MicrophoneSource opens the default input device.
func MicrophoneSource(sampleRate int) func() (FrameSource, error) {
	return func() (FrameSource, error) {
		// 20ms frames
		return audio.OpenMicrophone(sampleRate, sampleRate/50)
	}
}

// Capture implements Capturer.
func (c *EnergyCapture) Capture(ctx context.Context, stop <-chan struct{}) (audio.PCM, error) {
	if err := ctx.Err(); err != nil {
		return audio.PCM{}, err
	}
	src, err := c.open()
	if err != nil {
		return audio.PCM{}, fmt.Errorf("%w: %v", ErrNotAllowed, err)
	}
	defer src.Close()

	if err := src.Start(); err != nil {
		return audio.PCM{}, fmt.Errorf("%w: %v", ErrNotAllowed, err)
	}

	rate := src.SampleRate()
	var (
		samples []float32
		heard   bool
		waited  time.Duration
		silence time.Duration
	)
	for {
		select {
		case <-ctx.Done():
			return audio.PCM{}, ctx.Err()
		case <-stop:
			if !heard {
				return audio.PCM{}, ErrNoSpeech
			}
			return audio.PCM{Samples: samples, SampleRate: rate}, nil
		default:
		}

		frame, err := src.Read()
		if err != nil {
			return audio.PCM{}, fmt.Errorf("failed to read input: %w", err)
		}
		dur := time.Duration(len(frame)) * time.Second / time.Duration(rate)
		loud := audio.RMS(frame) >= c.cfg.EnergyThreshold

		if !heard {
			if !loud {
				waited += dur
				if waited >= c.cfg.NoSpeechTimeout {
					return audio.PCM{}, ErrNoSpeech
				}
				continue
			}
			heard = true
		}

		samples = append(samples, frame...)
		if loud {
			silence = 0
		} else {
			silence += dur
		}
		pcm := audio.PCM{Samples: samples, SampleRate: rate}
		if silence >= c.cfg.SilenceHold || pcm.Duration() >= c.cfg.MaxUtterance {
			return pcm, nil
		}
	}
}
