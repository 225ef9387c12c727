// Package playback plays the audio of one assistant turn in a fixed order:
// the primary clip (or local speech), a pause, the voice memory clip, and a
// final pause.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voicebridge/internal/audio"
	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
	"voicebridge/internal/metrics"
)

// Speaker speaks text with local synthesis and returns when speech ends.
type Speaker interface {
	Speak(ctx context.Context, text string, tag lang.Tag) error
}

// Request describes one turn's audio.
type Request struct {
	PrimaryURL   string
	FallbackText string
	Language     lang.Tag // session language
	MemoryURL    string
	// MemoryLanguage is the language the memory clip was recorded in.
	// Empty means the default language.
	MemoryLanguage lang.Tag
}

// Config holds the inter-clip pauses.
type Config struct {
	ClipPause  time.Duration
	FinalPause time.Duration
}

// DefaultConfig returns the pauses used on calls.
func DefaultConfig() Config {
	return Config{
		ClipPause:  time.Second,
		FinalPause: 600 * time.Millisecond,
	}
}

// Sequencer plays turn audio. Every clip it starts is registered with the
// registry until it ends, so the caller can silence it at any time.
type Sequencer struct {
	cfg      Config
	fetch    Fetcher
	decode   Decoder
	out      Output
	speaker  Speaker
	registry *audio.Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewSequencer creates a sequencer. speaker may be nil when local
// synthesis is unsupported.
func NewSequencer(cfg Config, fetch Fetcher, decode Decoder, out Output, speaker Speaker, registry *audio.Registry, m *metrics.Metrics) *Sequencer {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Sequencer{
		cfg:      cfg,
		fetch:    fetch,
		decode:   decode,
		out:      out,
		speaker:  speaker,
		registry: registry,
		metrics:  m,
		log:      logging.WithComponent("playback"),
	}
}

// Play runs the sequence and returns once all applicable audio has played
// or been skipped. Clip failures are skipped. When ctx is cancelled the
// live clip is stopped and Play returns ctx.Err() promptly.
func (s *Sequencer) Play(ctx context.Context, req Request) error {
	primaryDone := false
	if req.PrimaryURL != "" {
		err := s.PlayURL(ctx, "primary", req.PrimaryURL)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("Primary clip failed, skipping")
		} else {
			primaryDone = true
		}
	}

	if !primaryDone && req.FallbackText != "" {
		if err := s.speak(ctx, req.FallbackText, req.Language); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("Local speech failed, skipping")
		}
	}

	if err := sleep(ctx, s.cfg.ClipPause); err != nil {
		return err
	}

	if req.MemoryURL != "" {
		if memoryPlayable(req) {
			if err := s.PlayURL(ctx, "memory", req.MemoryURL); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn().Err(err).Msg("Memory clip failed, skipping")
			}
		} else {
			s.metrics.RecordClip("memory", "skipped")
			s.log.Info().
				Str("clip_language", string(memoryLanguage(req))).
				Str("session_language", string(req.Language)).
				Msg("Memory clip language differs from session, skipping")
		}
	}

	return sleep(ctx, s.cfg.FinalPause)
}

func memoryLanguage(req Request) lang.Tag {
	if req.MemoryLanguage == "" {
		return lang.Default
	}
	return req.MemoryLanguage
}

func memoryPlayable(req Request) bool {
	session := req.Language
	if session == "" {
		session = lang.Default
	}
	return memoryLanguage(req) == session
}

func (s *Sequencer) speak(ctx context.Context, text string, tag lang.Tag) error {
	if s.speaker == nil {
		s.metrics.RecordClip("local", "unsupported")
		return errors.New("local synthesis unsupported")
	}
	err := s.speaker.Speak(ctx, text, tag)
	s.metrics.RecordClip("local", outcome(ctx, err))
	return err
}

// PlayURL fetches, decodes and plays one clip to completion.
func (s *Sequencer) PlayURL(ctx context.Context, kind, url string) error {
	data, err := s.fetch.Fetch(ctx, url)
	if err != nil {
		s.metrics.RecordClip(kind, outcome(ctx, err))
		return fmt.Errorf("fetch %s clip: %w", kind, err)
	}
	pcm, err := s.decode.Decode(data)
	if err != nil {
		s.metrics.RecordClip(kind, "failed")
		return fmt.Errorf("decode %s clip: %w", kind, err)
	}
	err = PlayPCM(ctx, s.out, s.registry, pcm)
	s.metrics.RecordClip(kind, outcome(ctx, err))
	return err
}

// PlayPCM starts pcm on out, registers the clip, and waits for it to end
// or for ctx to be cancelled, in which case the clip is stopped.
func PlayPCM(ctx context.Context, out Output, registry *audio.Registry, pcm audio.PCM) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clip, err := out.Start(pcm)
	if err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	if registry != nil {
		registry.Add(clip)
		defer registry.Remove(clip)
	}

	select {
	case <-clip.Done():
		// a clip stopped through the registry ends the turn's audio too
		return ctx.Err()
	case <-ctx.Done():
		clip.Stop()
		return ctx.Err()
	}
}

func outcome(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "interrupted"
	case err != nil:
		return "failed"
	default:
		return "played"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
