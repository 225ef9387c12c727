package audio

import (
	"sync"

	"voicebridge/internal/metrics"
)

// Stopper is a live playback that can be force-stopped.
type Stopper interface {
	Stop()
}

// Registry tracks every live playback handle so a call can be silenced in
// one step. Handles must be comparable (pointer types).
type Registry struct {
	mu      sync.Mutex
	handles []Stopper
	gauge   *metrics.Metrics
}

// NewRegistry returns an empty registry reporting to m, which may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{gauge: m}
}

// Add registers h.
func (r *Registry) Add(h Stopper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
	r.report()
}

// Remove unregisters h after it ends on its own. Unknown handles are
// ignored.
func (r *Registry) Remove(h Stopper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, have := range r.handles {
		if have == h {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			break
		}
	}
	r.report()
}

// StopAll stops and forgets every handle, returning how many were live.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	handles := r.handles
	r.handles = nil
	r.report()
	r.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	return len(handles)
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) report() {
	if r.gauge != nil {
		r.gauge.LiveHandles.Set(float64(len(r.handles)))
	}
}
