package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"voicebridge/internal/audio"
)

// Clip is a live playback.
type Clip interface {
	Stop()
	Done() <-chan struct{}
}

// Output starts playback of decoded audio.
type Output interface {
	Start(pcm audio.PCM) (Clip, error)
}

// Fetcher downloads an encoded clip.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Decoder decodes an encoded clip.
type Decoder interface {
	Decode(data []byte) (audio.PCM, error)
}

type deviceOutput struct {
	dev *audio.Device
}

// DeviceOutput plays through a PortAudio device.
func DeviceOutput(dev *audio.Device) Output {
	return deviceOutput{dev: dev}
}

func (o deviceOutput) Start(pcm audio.PCM) (Clip, error) {
	c, err := o.dev.Start(pcm)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SilentOutput "plays" clips by waiting out their duration. It stands in
// for a device on headless hosts.
type SilentOutput struct{}

func (SilentOutput) Start(pcm audio.PCM) (Clip, error) {
	c := &timedClip{done: make(chan struct{})}
	c.timer = time.AfterFunc(pcm.Duration(), c.Stop)
	return c, nil
}

type timedClip struct {
	once  sync.Once
	timer *time.Timer
	done  chan struct{}
}

func (c *timedClip) Stop() {
	c.once.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		close(c.done)
	})
}

func (c *timedClip) Done() <-chan struct{} { return c.done }

const maxClipBytes = 32 << 20

// ErrClipTooLarge is returned for clips over the download limit.
var ErrClipTooLarge = errors.New("clip too large")

// HTTPFetcher downloads clips over HTTP. Relative URLs, which the backend
// returns for locally stored audio, resolve against the base URL.
type HTTPFetcher struct {
	base     *url.URL
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. baseURL may be empty.
func NewHTTPFetcher(baseURL string, timeout time.Duration) (*HTTPFetcher, error) {
	f := &HTTPFetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxClipBytes}
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
		}
		f.base = u
	}
	return f, nil
}

// Fetch downloads rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid clip url %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		if f.base == nil {
			return nil, fmt.Errorf("relative clip url %q without base url", rawURL)
		}
		u = f.base.ResolveReference(&url.URL{Path: strings.TrimLeft(u.Path, "/"), RawQuery: u.RawQuery})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clip fetch failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read clip: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrClipTooLarge, u.Redacted(), f.maxBytes)
	}
	return data, nil
}
