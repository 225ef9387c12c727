package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Microphone captures mono float32 frames from the default input device.
type Microphone struct {
	stream *portaudio.Stream
	buffer []float32
	rate   int
}

// OpenMicrophone opens the default input at sampleRate, reading
// framesPerBuffer samples per Read.
func OpenMicrophone(sampleRate, framesPerBuffer int) (*Microphone, error) {
	if err := host.acquire(); err != nil {
		return nil, err
	}

	m := &Microphone{
		buffer: make([]float32, framesPerBuffer),
		rate:   sampleRate,
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, m.buffer)
	if err != nil {
		host.release()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	m.stream = stream
	return m, nil
}

// SampleRate is the capture rate.
func (m *Microphone) SampleRate() int { return m.rate }

// Start begins capture.
func (m *Microphone) Start() error {
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	return nil
}

// Read blocks for the next frame and returns a copy of it.
func (m *Microphone) Read() ([]float32, error) {
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	frame := make([]float32, len(m.buffer))
	copy(frame, m.buffer)
	return frame, nil
}

// Close stops capture and releases the device.
func (m *Microphone) Close() error {
	m.stream.Stop()
	if err := m.stream.Close(); err != nil {
		host.release()
		return fmt.Errorf("failed to close input stream: %w", err)
	}
	return host.release()
}
