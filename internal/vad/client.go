// Package vad is a client for a remote voice-activity detector, used to tell
// a noisy capture from real speech before paying for transcription.
package vad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client represents a VAD HTTP client
type Client struct {
	baseURL    string
	httpClient *http.Client
	params     DetectRequest
}

// DetectRequest represents the request parameters for VAD detection
type DetectRequest struct {
	Threshold            float64 `json:"threshold,omitempty"`
	MinSpeechDurationMs  int     `json:"min_speech_duration_ms,omitempty"`
	MinSilenceDurationMs int     `json:"min_silence_duration_ms,omitempty"`
}

// SpeechSegment represents a detected speech segment
type SpeechSegment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// DetectResponse represents the response from VAD detection
type DetectResponse struct {
	Status         string          `json:"status"`
	Message        string          `json:"message,omitempty"`
	SpeechSegments []SpeechSegment `json:"speech_segments"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewClient creates a new VAD client
func NewClient(baseURL string, params DetectRequest) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		params: params,
	}
}

// Health checks if the VAD service is healthy
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call health endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &healthResp, nil
}

// Detect finds speech segments in a WAV clip.
func (c *Client) Detect(ctx context.Context, wav []byte) (*DetectResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio_file", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	if c.params.Threshold > 0 {
		writer.WriteField("threshold", fmt.Sprintf("%.2f", c.params.Threshold))
	}
	if c.params.MinSpeechDurationMs > 0 {
		writer.WriteField("min_speech_duration_ms", fmt.Sprintf("%d", c.params.MinSpeechDurationMs))
	}
	if c.params.MinSilenceDurationMs > 0 {
		writer.WriteField("min_silence_duration_ms", fmt.Sprintf("%d", c.params.MinSilenceDurationMs))
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var detectResp DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&detectResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &detectResp, fmt.Errorf("detection failed with status %d: %s", resp.StatusCode, detectResp.Message)
	}

	if detectResp.Status != "success" {
		return &detectResp, fmt.Errorf("detection unsuccessful: %s", detectResp.Message)
	}

	return &detectResp, nil
}

// HasSpeech reports whether the clip contains any speech segment.
func (c *Client) HasSpeech(ctx context.Context, wav []byte) (bool, error) {
	resp, err := c.Detect(ctx, wav)
	if err != nil {
		return false, err
	}
	return len(resp.SpeechSegments) > 0, nil
}
