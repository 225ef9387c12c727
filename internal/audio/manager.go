package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// The PortAudio library is process wide. Every device and microphone holds
// a reference while open; the library is terminated when the last one is
// released.
var host = &hostRef{}

type hostRef struct {
	mu          sync.Mutex
	initialized bool
	refs        int
}

func (h *hostRef) acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
		h.initialized = true
	}
	h.refs++
	return nil
}

func (h *hostRef) release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.refs > 0 {
		h.refs--
	}
	if h.refs == 0 && h.initialized {
		h.initialized = false
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
	}
	return nil
}
