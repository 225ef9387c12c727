package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voicebridge/internal/logging"
)

const outputFramesPerBuffer = 1024

// Device is the shared audio output. Each clip gets its own callback
// stream on the default output device.
type Device struct {
	rate int
	log  zerolog.Logger
}

// OpenDevice acquires PortAudio and returns an output at sampleRate.
func OpenDevice(sampleRate int) (*Device, error) {
	if err := host.acquire(); err != nil {
		return nil, err
	}
	return &Device{
		rate: sampleRate,
		log:  logging.WithComponent("audio"),
	}, nil
}

// SampleRate is the rate clips are played at.
func (d *Device) SampleRate() int { return d.rate }

// Start begins playing pcm and returns its handle immediately.
func (d *Device) Start(pcm PCM) (*Clip, error) {
	if len(pcm.Samples) == 0 {
		return nil, fmt.Errorf("no audio samples to play")
	}

	samples := pcm.Samples
	if pcm.SampleRate != d.rate {
		var err error
		samples, err = Resample(pcm.Samples, pcm.SampleRate, d.rate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample audio: %w", err)
		}
	}

	c := &Clip{
		samples: samples,
		done:    make(chan struct{}),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(d.rate), outputFramesPerBuffer, c.callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	c.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	d.log.Debug().Int("samples", len(samples)).Dur("duration", PCM{Samples: samples, SampleRate: d.rate}.Duration()).Msg("Clip started")

	go c.watch()
	return c, nil
}

// Close releases the device.
func (d *Device) Close() error {
	return host.release()
}

// Clip is a live, stoppable playback.
type Clip struct {
	stream *portaudio.Stream

	mu          sync.Mutex
	samples     []float32
	pos         int
	drained     bool
	interrupted bool

	once sync.Once
	done chan struct{}
}

func (c *Clip) callback(out []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interrupted {
		for i := range out {
			out[i] = 0
		}
		return
	}
	for i := range out {
		if c.pos < len(c.samples) {
			out[i] = c.samples[c.pos]
			c.pos++
		} else {
			out[i] = 0
			c.drained = true
		}
	}
}

func (c *Clip) watch() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			drained := c.drained
			c.mu.Unlock()
			if drained {
				c.finish(false)
				return
			}
		}
	}
}

func (c *Clip) finish(interrupt bool) {
	c.once.Do(func() {
		c.mu.Lock()
		c.interrupted = interrupt
		c.mu.Unlock()

		if interrupt {
			c.stream.Abort()
		} else {
			c.stream.Stop()
		}
		c.stream.Close()
		close(c.done)
	})
}

// Stop interrupts playback. It is safe to call more than once.
func (c *Clip) Stop() { c.finish(true) }

// Done is closed when playback ends or is stopped.
func (c *Clip) Done() <-chan struct{} { return c.done }

// Interrupted reports whether the clip was stopped before it drained.
func (c *Clip) Interrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}
