package asr

import (
	"bytes"
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	gapi "google.golang.org/api/option"

	"voicebridge/internal/lang"
)

// Hypothesis is one recognition alternative.
type Hypothesis struct {
	Transcript string
	Confidence float64
}

// Transcriber turns a captured utterance (16-bit mono WAV) into ranked
// hypotheses, best first.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, sampleRate int, tag lang.Tag) ([]Hypothesis, error)
}

// GoogleTranscriber uses Cloud Speech-to-Text, asking for two alternatives
// so low-confidence results can be swapped.
type GoogleTranscriber struct {
	client *speech.Client
}

// NewGoogleTranscriber dials the speech API. An empty credentialsFile uses
// application default credentials.
func NewGoogleTranscriber(ctx context.Context, credentialsFile string) (*GoogleTranscriber, error) {
	var opts []gapi.ClientOption
	if credentialsFile != "" {
		opts = append(opts, gapi.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleTranscriber{client: client}, nil
}

// Transcribe implements Transcriber.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, wav []byte, sampleRate int, tag lang.Tag) ([]Hypothesis, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			AudioChannelCount:          1,
			LanguageCode:               tag.String(),
			MaxAlternatives:            2,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wav},
		},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("recognize failed: %w", err))
	}

	// only the first result is the utterance; later results are continuations
	var hyps []Hypothesis
	for _, r := range resp.GetResults() {
		for _, alt := range r.GetAlternatives() {
			hyps = append(hyps, Hypothesis{
				Transcript: alt.GetTranscript(),
				Confidence: float64(alt.GetConfidence()),
			})
		}
		break
	}
	return hyps, nil
}

// Close releases the client connection.
func (g *GoogleTranscriber) Close() error {
	return g.client.Close()
}

// WhisperTranscriber uses the OpenAI transcription API. Whisper reports no
// confidence, so its single hypothesis is always taken.
type WhisperTranscriber struct {
	client openai.Client
	model  string
}

// NewWhisperTranscriber creates a transcriber for apiKey.
func NewWhisperTranscriber(apiKey string, opts ...option.RequestOption) *WhisperTranscriber {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &WhisperTranscriber{
		client: openai.NewClient(opts...),
		model:  "whisper-1",
	}
}

// Transcribe implements Transcriber.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, wav []byte, sampleRate int, tag lang.Tag) ([]Hypothesis, error) {
	params := openai.AudioTranscriptionNewParams{
		File:     openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:    openai.AudioModel(w.model),
		Language: openai.String(tag.Base()),
	}

	transcription, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("transcription failed: %w", err))
	}
	if transcription.Text == "" {
		return nil, nil
	}
	return []Hypothesis{{Transcript: transcription.Text, Confidence: 1}}, nil
}
