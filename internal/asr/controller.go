// Package asr drives speech recognition for a call: capturing one utterance
// at a time, transcribing it, picking the best hypothesis and classifying
// failures.
package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"voicebridge/internal/audio"
	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
	"voicebridge/internal/metrics"
)

// Attempt is the outcome of one recognition cycle.
type Attempt struct {
	Language      lang.Tag
	Transcript    string
	Confidence    float64
	AltTranscript string
	AltConfidence float64
	UsedAlt       bool // the alternative replaced the top hypothesis
}

// SpeechChecker confirms a capture contains speech before it is transcribed.
type SpeechChecker interface {
	HasSpeech(ctx context.Context, wav []byte) (bool, error)
}

// Config configures a Controller.
type Config struct {
	// Below this confidence a better second alternative wins, for
	// languages whose recognizer is flagged unreliable.
	ConfidenceThreshold float64
	Metrics             *metrics.Metrics
}

// Controller owns the recognizer. At most one capture is active at a time;
// starting a new one aborts the previous.
type Controller struct {
	cfg         Config
	capture     Capturer
	transcriber Transcriber
	checker     SpeechChecker
	metrics     *metrics.Metrics
	log         zerolog.Logger

	mu     sync.Mutex
	active *session
}

type session struct {
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
}

func (s *session) finish() {
	s.once.Do(func() { close(s.stop) })
}

// NewController creates a controller. checker may be nil.
func NewController(cfg Config, capture Capturer, transcriber Transcriber, checker SpeechChecker) *Controller {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics(nil)
	}
	return &Controller{
		cfg:         cfg,
		capture:     capture,
		transcriber: transcriber,
		checker:     checker,
		metrics:     cfg.Metrics,
		log:         logging.WithComponent("asr"),
	}
}

// ListenOption customises a Listen call.
type ListenOption func(*listenOptions)

type listenOptions struct {
	captured func()
}

// WithCaptured registers fn to run when capture ends and transcription
// begins.
func WithCaptured(fn func()) ListenOption {
	return func(o *listenOptions) { o.captured = fn }
}

// Listen captures and transcribes one utterance in tag. It blocks until a
// final result or an error; interim results are never surfaced.
func (c *Controller) Listen(ctx context.Context, tag lang.Tag, opts ...ListenOption) (Attempt, error) {
	var o listenOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, stop: make(chan struct{}), done: make(chan struct{})}

	c.mu.Lock()
	prev := c.active
	c.active = s
	c.mu.Unlock()

	if prev != nil {
		c.log.Debug().Msg("Aborting previous recognizer")
		prev.cancel()
		<-prev.done
	}

	defer func() {
		cancel()
		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()
		close(s.done)
	}()

	attempt, err := c.listen(ctx, s, tag, o)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrNoSpeech) {
			err = fmt.Errorf("%w: %v", ErrAborted, err)
		}
		c.metrics.RecognitionErrors.WithLabelValues(Kind(err)).Inc()
		return Attempt{}, err
	}
	c.metrics.RecognitionResults.WithLabelValues(tag.String()).Inc()
	return attempt, nil
}

func (c *Controller) listen(ctx context.Context, s *session, tag lang.Tag, o listenOptions) (Attempt, error) {
	pcm, err := c.capture.Capture(ctx, s.stop)
	if err != nil {
		return Attempt{}, err
	}
	if o.captured != nil {
		o.captured()
	}

	wav, err := audio.EncodeWAV(pcm.Samples, pcm.SampleRate)
	if err != nil {
		return Attempt{}, err
	}

	if c.checker != nil {
		ok, err := c.checker.HasSpeech(ctx, wav)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Msg("Speech check failed, transcribing anyway")
		case !ok:
			return Attempt{}, ErrNoSpeech
		}
	}

	hyps, err := c.transcriber.Transcribe(ctx, wav, pcm.SampleRate, tag)
	if err != nil {
		return Attempt{}, classify(err)
	}
	return c.choose(hyps, tag)
}

// choose picks the final transcript from ranked hypotheses.
func (c *Controller) choose(hyps []Hypothesis, tag lang.Tag) (Attempt, error) {
	if len(hyps) == 0 || strings.TrimSpace(hyps[0].Transcript) == "" {
		return Attempt{}, ErrNoSpeech
	}

	a := Attempt{
		Language:   tag,
		Transcript: strings.TrimSpace(hyps[0].Transcript),
		Confidence: hyps[0].Confidence,
	}
	if len(hyps) < 2 || strings.TrimSpace(hyps[1].Transcript) == "" {
		return a, nil
	}
	a.AltTranscript = strings.TrimSpace(hyps[1].Transcript)
	a.AltConfidence = hyps[1].Confidence

	l, ok := lang.Lookup(tag)
	if ok && l.LowConfidence && a.Confidence < c.cfg.ConfidenceThreshold && a.AltConfidence > a.Confidence {
		c.log.Info().
			Str("language", tag.String()).
			Float64("confidence", a.Confidence).
			Float64("alt_confidence", a.AltConfidence).
			Msg("Using alternative transcript")
		a.Transcript, a.AltTranscript = a.AltTranscript, a.Transcript
		a.Confidence, a.AltConfidence = a.AltConfidence, a.Confidence
		a.UsedAlt = true
		c.metrics.AlternativesUsed.Inc()
	}
	return a, nil
}

// Stop ends the current capture early; what was heard is still transcribed.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		s.finish()
	}
}

// Abort cancels the current recognition without a result and waits for it
// to release the device.
func (c *Controller) Abort() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Active reports whether a recognizer is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
