package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voicebridge/internal/asr"
	"voicebridge/internal/audio"
	"voicebridge/internal/chat"
	"voicebridge/internal/lang"
	"voicebridge/internal/metrics"
	"voicebridge/internal/playback"
	"voicebridge/internal/state"
	"voicebridge/internal/tts"
)

// utterance scripts one recognition.
type utterance struct {
	text  string
	conf  float64
	err   error // returned by capture
	block bool  // wait until aborted
}

// scriptedSpeech is both capture and transcriber for asr.Controller.
type scriptedSpeech struct {
	mu        sync.Mutex
	script    []utterance
	calls     int
	cur       utterance
	listening chan struct{}
}

func newScriptedSpeech(script ...utterance) *scriptedSpeech {
	return &scriptedSpeech{script: script, listening: make(chan struct{}, 64)}
}

func (s *scriptedSpeech) Capture(ctx context.Context, stop <-chan struct{}) (audio.PCM, error) {
	s.mu.Lock()
	s.calls++
	u := utterance{block: true}
	if len(s.script) > 0 {
		u, s.script = s.script[0], s.script[1:]
	}
	s.cur = u
	s.mu.Unlock()
	s.listening <- struct{}{}

	if u.block {
		select {
		case <-ctx.Done():
			return audio.PCM{}, ctx.Err()
		case <-stop:
			return audio.PCM{}, asr.ErrNoSpeech
		}
	}
	if u.err != nil {
		return audio.PCM{}, u.err
	}
	return audio.PCM{Samples: make([]float32, 160), SampleRate: 16000}, nil
}

func (s *scriptedSpeech) Transcribe(ctx context.Context, wav []byte, rate int, tag lang.Tag) ([]asr.Hypothesis, error) {
	s.mu.Lock()
	u := s.cur
	s.mu.Unlock()
	return []asr.Hypothesis{{Transcript: u.text, Confidence: u.conf}}, nil
}

func (s *scriptedSpeech) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeChat answers with respond and serves memory clips from a map.
type fakeChat struct {
	mu       sync.Mutex
	reqs     []chat.Request
	respond  func(ctx context.Context, req chat.Request) (chat.Response, error)
	memories map[string]chat.Memory
}

func (f *fakeChat) Chat(ctx context.Context, req chat.Request) (chat.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return chat.Response{ResponseText: "ठीक है"}, nil
	}
	return respond(ctx, req)
}

func (f *fakeChat) VoiceMemory(ctx context.Context, schemeID string, tag lang.Tag) (chat.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memories[schemeID]
	if !ok {
		return chat.Memory{}, chat.ErrNoClip
	}
	return m, nil
}

func (f *fakeChat) Requests() []chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Request(nil), f.reqs...)
}

// primaryTTS returns url for every request; empty means no URL.
type primaryTTS struct{ url string }

func (p primaryTTS) TextToSpeech(ctx context.Context, text, voice string) (string, error) {
	return p.url, nil
}

// testSpeaker is the local synthesis tier. With a gate it speaks until the
// gate closes.
type testSpeaker struct {
	mu    sync.Mutex
	texts []string
	gate  chan struct{}
}

func (s *testSpeaker) Available() bool { return true }

func (s *testSpeaker) Speak(ctx context.Context, text string, tag lang.Tag) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	gate := s.gate
	s.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *testSpeaker) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// clipFetcher serves every URL and remembers the last one.
type clipFetcher struct {
	mu      sync.Mutex
	fetched []string
}

func (f *clipFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if url == "/audio/missing.mp3" {
		return nil, errors.New("404")
	}
	f.fetched = append(f.fetched, url)
	return []byte(url), nil
}

func (f *clipFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *clipFetcher) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetched) == 0 {
		return ""
	}
	return f.fetched[len(f.fetched)-1]
}

type pcmDecoder struct{}

func (pcmDecoder) Decode(data []byte) (audio.PCM, error) {
	return audio.PCM{Samples: make([]float32, 160), SampleRate: 16000}, nil
}

type testClip struct {
	once sync.Once
	done chan struct{}
}

func (c *testClip) Stop()                 { c.once.Do(func() { close(c.done) }) }
func (c *testClip) Done() <-chan struct{} { return c.done }

// holdOutput finishes clips instantly except the first play of the held
// URL, which lasts until stopped.
type holdOutput struct {
	fetch   *clipFetcher
	hold    string
	held    atomic.Bool
	started chan string
}

func (o *holdOutput) Start(pcm audio.PCM) (playback.Clip, error) {
	c := &testClip{done: make(chan struct{})}
	url := o.fetch.last()
	if url != o.hold || o.held.Swap(true) {
		c.Stop()
	}
	select {
	case o.started <- url:
	default:
	}
	return c, nil
}

type harness struct {
	o        *Orchestrator
	speech   *scriptedSpeech
	chat     *fakeChat
	speaker  *testSpeaker
	fetch    *clipFetcher
	output   *holdOutput
	registry *audio.Registry
	metrics  *metrics.Metrics

	snapMu sync.Mutex
	snaps  []state.Session
}

type harnessOptions struct {
	continuous   bool
	primaryURL   string
	noRecognizer bool
	speech       []utterance
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	m := metrics.NewMetrics(nil)
	registry := audio.NewRegistry(m)

	h := &harness{
		speech:   newScriptedSpeech(opts.speech...),
		chat:     &fakeChat{memories: map[string]chat.Memory{}},
		speaker:  &testSpeaker{},
		fetch:    &clipFetcher{},
		registry: registry,
		metrics:  m,
	}
	h.output = &holdOutput{fetch: h.fetch, started: make(chan string, 16)}

	resolver := tts.NewResolver(tts.ResolverConfig{PrimaryVoice: "Kajal", RegionalTimeout: time.Second},
		primaryTTS{url: opts.primaryURL}, nil, h.speaker, m)
	player := playback.NewSequencer(playback.Config{}, h.fetch, pcmDecoder{}, h.output, h.speaker, registry, m)

	var rec Recognizer
	if !opts.noRecognizer {
		rec = asr.NewController(asr.Config{Metrics: m}, h.speech, h.speech, nil)
	}

	h.o = New(Config{
		Language:   lang.Hindi,
		Continuous: opts.continuous,
		Metrics:    m,
	}, Deps{
		Recognizer: rec,
		Chat:       h.chat,
		Resolver:   resolver,
		Player:     player,
		Registry:   registry,
	})

	snaps, cancel := h.o.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range snaps {
			h.snapMu.Lock()
			h.snaps = append(h.snaps, s)
			h.snapMu.Unlock()
		}
	}()
	t.Cleanup(func() {
		h.o.Close()
		cancel()
		<-done
	})
	return h
}

func (h *harness) waitState(t *testing.T, want state.CallState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.o.Snapshot().State == want },
		2*time.Second, time.Millisecond, "want %s, have %s", want, h.o.Snapshot().State)
}

func (h *harness) waitListening(t *testing.T) {
	t.Helper()
	select {
	case <-h.speech.listening:
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer never started")
	}
}

func (h *harness) Snapshots() []state.Session {
	h.snapMu.Lock()
	defer h.snapMu.Unlock()
	return append([]state.Session(nil), h.snaps...)
}

func roles(s state.Session) string {
	out := ""
	for _, t := range s.History {
		out += fmt.Sprintf("%s;", t.Role)
	}
	return out
}
