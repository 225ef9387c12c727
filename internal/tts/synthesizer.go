package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voicebridge/internal/lang"
)

// OpenAISynthesizer renders speech locally through the OpenAI speech API.
// It backs the last fallback tier, so it only needs an API key.
type OpenAISynthesizer struct {
	client openai.Client
	model  string
	voice  string
}

// NewOpenAISynthesizer creates a synthesizer. Extra options (base URL,
// HTTP client) are passed through to the SDK.
func NewOpenAISynthesizer(apiKey, model, voice string, opts ...option.RequestOption) *OpenAISynthesizer {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	if model == "" {
		model = "tts-1"
	}
	if voice == "" {
		voice = "nova"
	}
	return &OpenAISynthesizer{
		client: openai.NewClient(opts...),
		model:  model,
		voice:  voice,
	}
}

// Synthesize returns MP3 audio of text in the language's voice, spoken at
// its rate. The speech API has no pitch control; models that take
// instructions are asked for the pitch instead.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, l lang.Language) ([]byte, error) {
	voice := s.voice
	if l.Voice != "" {
		voice = l.Voice
	}
	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if l.Rate > 0 && l.Rate != 1.0 {
		params.Speed = openai.Float(l.Rate)
	}
	if !strings.HasPrefix(s.model, "tts-1") {
		params.Instructions = openai.String(instructions(l))
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("speech synthesis returned no audio")
	}
	return data, nil
}

func instructions(l lang.Language) string {
	pitch := "natural"
	switch {
	case l.Pitch > 1:
		pitch = "slightly raised"
	case l.Pitch > 0 && l.Pitch < 1:
		pitch = "slightly lowered"
	}
	name := l.EnglishName
	if name == "" {
		name = "the user's language"
	}
	return fmt.Sprintf("Speak %s clearly and warmly, with a %s pitch, for a listener who may not read.", name, pitch)
}
