package asr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voicebridge/internal/audio"
	"voicebridge/internal/lang"
	"voicebridge/internal/metrics"
)

// blockingCapture waits for stop or ctx. It records the peak number of
// concurrent captures.
type blockingCapture struct {
	started   chan struct{}
	live      atomic.Int32
	peak      atomic.Int32
	speech    bool
	immediate bool
}

func newBlockingCapture() *blockingCapture {
	return &blockingCapture{started: make(chan struct{}, 8), speech: true}
}

func (b *blockingCapture) Capture(ctx context.Context, stop <-chan struct{}) (audio.PCM, error) {
	n := b.live.Add(1)
	defer b.live.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	b.started <- struct{}{}

	if !b.immediate {
		select {
		case <-ctx.Done():
			return audio.PCM{}, ctx.Err()
		case <-stop:
		}
	}
	if !b.speech {
		return audio.PCM{}, ErrNoSpeech
	}
	return audio.PCM{Samples: make([]float32, 1600), SampleRate: 16000}, nil
}

type fakeTranscriber struct {
	hyps []Hypothesis
	err  error
	tags []lang.Tag
	mu   sync.Mutex
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte, rate int, tag lang.Tag) ([]Hypothesis, error) {
	f.mu.Lock()
	f.tags = append(f.tags, tag)
	f.mu.Unlock()
	if audio.DetectFormat(wav) != audio.FormatWAV {
		return nil, errors.New("not a wav upload")
	}
	return f.hyps, f.err
}

type fakeChecker struct {
	speech bool
	err    error
}

func (f fakeChecker) HasSpeech(context.Context, []byte) (bool, error) { return f.speech, f.err }

func newController(capture Capturer, tr Transcriber, checker SpeechChecker) (*Controller, *metrics.Metrics) {
	m := metrics.NewMetrics(nil)
	return NewController(Config{ConfidenceThreshold: 0.6, Metrics: m}, capture, tr, checker), m
}

func TestController_FinalResult(t *testing.T) {
	capture := newBlockingCapture()
	capture.immediate = true
	tr := &fakeTranscriber{hyps: []Hypothesis{{Transcript: " मेरे पास दो एकड़ ज़मीन है ", Confidence: 0.9}}}
	c, m := newController(capture, tr, nil)

	captured := false
	a, err := c.Listen(context.Background(), lang.Hindi, WithCaptured(func() { captured = true }))
	require.NoError(t, err)
	assert.Equal(t, "मेरे पास दो एकड़ ज़मीन है", a.Transcript)
	assert.Equal(t, 0.9, a.Confidence)
	assert.Equal(t, lang.Hindi, a.Language)
	assert.True(t, captured)
	assert.False(t, c.Active())
	assert.Equal(t, []lang.Tag{lang.Hindi}, tr.tags)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecognitionResults.WithLabelValues("hi-IN")))
}

func TestController_AlternativeSelection(t *testing.T) {
	tests := []struct {
		name    string
		tag     lang.Tag
		hyps    []Hypothesis
		want    string
		usedAlt bool
	}{
		{
			name:    "low confidence regional swaps",
			tag:     lang.Tamil,
			hyps:    []Hypothesis{{"top", 0.4}, {"alt", 0.7}},
			want:    "alt",
			usedAlt: true,
		},
		{
			name: "alternative not better",
			tag:  lang.Tamil,
			hyps: []Hypothesis{{"top", 0.4}, {"alt", 0.3}},
			want: "top",
		},
		{
			name: "confident top kept",
			tag:  lang.Malayalam,
			hyps: []Hypothesis{{"top", 0.8}, {"alt", 0.95}},
			want: "top",
		},
		{
			name: "reliable language never swaps",
			tag:  lang.Hindi,
			hyps: []Hypothesis{{"top", 0.3}, {"alt", 0.9}},
			want: "top",
		},
		{
			name: "single hypothesis",
			tag:  lang.Kannada,
			hyps: []Hypothesis{{"top", 0.1}},
			want: "top",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture := newBlockingCapture()
			capture.immediate = true
			c, m := newController(capture, &fakeTranscriber{hyps: tt.hyps}, nil)

			a, err := c.Listen(context.Background(), tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Transcript)
			assert.Equal(t, tt.usedAlt, a.UsedAlt)
			if tt.usedAlt {
				assert.Equal(t, "top", a.AltTranscript)
				assert.Equal(t, 1.0, testutil.ToFloat64(m.AlternativesUsed))
			}
		})
	}
}

func TestController_NoSpeech(t *testing.T) {
	t.Run("capture heard nothing", func(t *testing.T) {
		capture := newBlockingCapture()
		capture.immediate = true
		capture.speech = false
		c, m := newController(capture, &fakeTranscriber{}, nil)

		_, err := c.Listen(context.Background(), lang.Hindi)
		assert.ErrorIs(t, err, ErrNoSpeech)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RecognitionErrors.WithLabelValues("no_speech")))
	})

	t.Run("empty transcript", func(t *testing.T) {
		capture := newBlockingCapture()
		capture.immediate = true
		c, _ := newController(capture, &fakeTranscriber{hyps: []Hypothesis{{" ", 0.9}}}, nil)

		_, err := c.Listen(context.Background(), lang.Hindi)
		assert.ErrorIs(t, err, ErrNoSpeech)
	})

	t.Run("checker rejects", func(t *testing.T) {
		capture := newBlockingCapture()
		capture.immediate = true
		tr := &fakeTranscriber{hyps: []Hypothesis{{"noise", 0.2}}}
		c, _ := newController(capture, tr, fakeChecker{speech: false})

		_, err := c.Listen(context.Background(), lang.Hindi)
		assert.ErrorIs(t, err, ErrNoSpeech)
		assert.Empty(t, tr.tags, "rejected capture is not transcribed")
	})

	t.Run("checker failure is ignored", func(t *testing.T) {
		capture := newBlockingCapture()
		capture.immediate = true
		c, _ := newController(capture, &fakeTranscriber{hyps: []Hypothesis{{"ok", 0.9}}}, fakeChecker{err: errors.New("down")})

		a, err := c.Listen(context.Background(), lang.Hindi)
		require.NoError(t, err)
		assert.Equal(t, "ok", a.Transcript)
	})
}

func TestController_TranscriberErrorsClassified(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{status.Error(codes.PermissionDenied, "denied"), "not_allowed"},
		{status.Error(codes.Unavailable, "down"), "network"},
		{errors.New("weird"), "other"},
	}
	for _, tt := range tests {
		capture := newBlockingCapture()
		capture.immediate = true
		c, _ := newController(capture, &fakeTranscriber{err: tt.err}, nil)

		_, err := c.Listen(context.Background(), lang.Hindi)
		require.Error(t, err)
		assert.Equal(t, tt.want, Kind(err), "error %v", tt.err)
	}
}

func TestController_StopTranscribesWhatWasHeard(t *testing.T) {
	capture := newBlockingCapture()
	c, _ := newController(capture, &fakeTranscriber{hyps: []Hypothesis{{"pm kisan", 0.8}}}, nil)

	res := make(chan error, 1)
	go func() {
		_, err := c.Listen(context.Background(), lang.Hindi)
		res <- err
	}()

	<-capture.started
	assert.True(t, c.Active())
	c.Stop()
	require.NoError(t, <-res)
	assert.False(t, c.Active())
}

func TestController_AbortYieldsNoResult(t *testing.T) {
	capture := newBlockingCapture()
	c, m := newController(capture, &fakeTranscriber{hyps: []Hypothesis{{"x", 0.9}}}, nil)

	res := make(chan error, 1)
	go func() {
		_, err := c.Listen(context.Background(), lang.Hindi)
		res <- err
	}()

	<-capture.started
	c.Abort()
	assert.False(t, c.Active(), "abort waits for the device to be released")

	err := <-res
	assert.ErrorIs(t, err, ErrAborted)
	assert.False(t, Retryable(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecognitionErrors.WithLabelValues("aborted")))

	c.Abort() // nothing active
}

func TestController_NewListenAbortsPrevious(t *testing.T) {
	capture := newBlockingCapture()
	c, _ := newController(capture, &fakeTranscriber{hyps: []Hypothesis{{"x", 0.9}}}, nil)

	first := make(chan error, 1)
	go func() {
		_, err := c.Listen(context.Background(), lang.Hindi)
		first <- err
	}()
	<-capture.started

	second := make(chan error, 1)
	go func() {
		_, err := c.Listen(context.Background(), lang.Tamil)
		second <- err
	}()

	assert.ErrorIs(t, <-first, ErrAborted)
	<-capture.started
	c.Stop()
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), capture.peak.Load(), "captures never overlap")
}

func TestController_ContextCancel(t *testing.T) {
	capture := newBlockingCapture()
	c, _ := newController(capture, &fakeTranscriber{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Listen(ctx, lang.Hindi)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrNoSpeech))
	assert.True(t, Retryable(errors.New("transient")))
	assert.False(t, Retryable(ErrNotAllowed))
	assert.False(t, Retryable(ErrNetwork))
	assert.Equal(t, "", Kind(nil))
}
