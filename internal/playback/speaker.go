package playback

import (
	"context"
	"fmt"

	"voicebridge/internal/audio"
	"voicebridge/internal/lang"
)

// Synthesizer renders text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, l lang.Language) ([]byte, error)
}

// LocalSpeaker speaks text by synthesizing it and playing the result
// through the shared output. Cancelling ctx aborts a pending synthesis
// request as well as playback.
type LocalSpeaker struct {
	synth    Synthesizer
	decode   Decoder
	out      Output
	registry *audio.Registry
}

// NewLocalSpeaker creates a speaker. A nil synth makes it unavailable.
func NewLocalSpeaker(synth Synthesizer, decode Decoder, out Output, registry *audio.Registry) *LocalSpeaker {
	return &LocalSpeaker{synth: synth, decode: decode, out: out, registry: registry}
}

// Available reports whether the speaker can produce audio.
func (s *LocalSpeaker) Available() bool {
	return s != nil && s.synth != nil && s.out != nil
}

// Speak synthesizes text in the voice of tag and plays it to completion.
func (s *LocalSpeaker) Speak(ctx context.Context, text string, tag lang.Tag) error {
	if !s.Available() {
		return fmt.Errorf("local synthesis unavailable")
	}
	data, err := s.synth.Synthesize(ctx, text, lang.MustLookup(tag))
	if err != nil {
		return fmt.Errorf("local synthesis: %w", err)
	}
	pcm, err := s.decode.Decode(data)
	if err != nil {
		return fmt.Errorf("decode local speech: %w", err)
	}
	return PlayPCM(ctx, s.out, s.registry, pcm)
}
