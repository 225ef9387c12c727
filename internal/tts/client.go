// Package tts resolves spoken audio for assistant text: the backend's
// primary and regional synthesis endpoints, then local synthesis.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voicebridge/internal/lang"
)

// ErrNoURL is returned when a synthesis endpoint answers without audio.
var ErrNoURL = errors.New("synthesis returned no audio url")

// Client calls the backend synthesis endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type speechRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// speechResponse is `{ audio_url }`; success is optional and only an
// explicit false rejects the reply.
type speechResponse struct {
	Success  *bool  `json:"success"`
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
	Speaker  string `json:"speaker,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TextToSpeech requests primary synthesis of text with the named voice.
func (c *Client) TextToSpeech(ctx context.Context, text, voice string) (string, error) {
	return c.synthesize(ctx, "/api/text-to-speech", speechRequest{Text: text, Voice: voice})
}

// RegionalTTS requests regional synthesis of text in tag. Callers bound it
// with a context deadline.
func (c *Client) RegionalTTS(ctx context.Context, text string, tag lang.Tag) (string, error) {
	return c.synthesize(ctx, "/api/sarvam-tts", speechRequest{Text: text, Language: tag.String()})
}

func (c *Client) synthesize(ctx context.Context, path string, request speechRequest) (string, error) {
	if request.Text == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out speechResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("synthesis request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("synthesis request failed with status %d: %s", resp.StatusCode, out.Error)
	}
	if (out.Success != nil && !*out.Success) || out.AudioURL == "" {
		if out.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrNoURL, out.Error)
		}
		return "", ErrNoURL
	}
	return out.AudioURL, nil
}
