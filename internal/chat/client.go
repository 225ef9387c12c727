// Package chat is the client for the assistant backend: the chat turn, the
// voice memory lookup and the health probe.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicebridge/internal/lang"
)

// ErrBadResponse is returned when a response does not match its schema.
var ErrBadResponse = errors.New("malformed backend response")

// ErrNoClip is returned when the backend has no memory clip for a scheme.
var ErrNoClip = errors.New("no voice memory clip")

// Client talks to the assistant backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Message is one history entry sent with a chat request.
type Message struct {
	Role    string `json:"role"`    // user, assistant
	Content string `json:"content"` // message text
}

// Request is a chat turn.
type Request struct {
	Message             string        `json:"message"`
	FarmerProfile       FarmerProfile `json:"farmer_profile"`
	ConversationHistory []Message     `json:"conversation_history"`
	Language            lang.Tag      `json:"language"`
}

// Response is the assistant's reply.
type Response struct {
	ResponseText     string   `json:"response_text"`
	SchemesMentioned []string `json:"schemes_mentioned"`
	VoiceMemoryClip  string   `json:"voice_memory_clip,omitempty"`
	AudioURL         string   `json:"audio_url,omitempty"`
}

// wire shape; pointers tell a missing field from an empty one
type chatResponse struct {
	Success          *bool    `json:"success"`
	ResponseText     *string  `json:"response_text"`
	SchemesMentioned []string `json:"schemes_mentioned"`
	VoiceMemoryClip  *string  `json:"voice_memory_clip"`
	AudioURL         *string  `json:"audio_url"`
	Error            string   `json:"error"`
}

// Memory is a voice memory clip: a farmer's recorded testimonial.
type Memory struct {
	AudioURL   string   `json:"audio_url"`
	FarmerName string   `json:"farmer_name"`
	District   string   `json:"district"`
	Scheme     string   `json:"scheme"`
	Language   lang.Tag `json:"language"`
}

// Label is the caption shown with the clip, "name, district".
func (m Memory) Label() string {
	var parts []string
	for _, p := range []string{m.FarmerName, m.District} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type memoryResponse struct {
	Success    *bool  `json:"success"`
	AudioURL   string `json:"audio_url"`
	FarmerName string `json:"farmer_name"`
	District   string `json:"district"`
	Scheme     string `json:"scheme"`
	Language   string `json:"language"`
	Error      string `json:"error"`
}

// ErrorResponse is the backend's error body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// NewClient creates a client with a 30 second timeout.
func NewClient(baseURL string) *Client {
	return NewClientWithConfig(baseURL, 30*time.Second)
}

// NewClientWithConfig creates a client with a custom timeout.
func NewClientWithConfig(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// Chat sends one turn and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Response{}, fmt.Errorf("message cannot be empty")
	}
	if req.Language == "" {
		req.Language = lang.Default
	}
	if req.ConversationHistory == nil {
		req.ConversationHistory = []Message{}
	}

	body, status, err := c.do(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return Response{}, err
	}
	if status != http.StatusOK {
		return Response{}, statusError("chat", status, body)
	}

	var raw chatResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if raw.Success != nil && !*raw.Success {
		return Response{}, fmt.Errorf("chat failed: %s", raw.Error)
	}
	if raw.ResponseText == nil {
		return Response{}, fmt.Errorf("%w: response_text missing", ErrBadResponse)
	}

	resp := Response{
		ResponseText:     *raw.ResponseText,
		SchemesMentioned: raw.SchemesMentioned,
	}
	if raw.VoiceMemoryClip != nil {
		resp.VoiceMemoryClip = *raw.VoiceMemoryClip
	}
	if raw.AudioURL != nil {
		resp.AudioURL = *raw.AudioURL
	}
	return resp, nil
}

// VoiceMemory looks up the memory clip for a scheme in tag.
func (c *Client) VoiceMemory(ctx context.Context, schemeID string, tag lang.Tag) (Memory, error) {
	if schemeID == "" {
		return Memory{}, fmt.Errorf("scheme id cannot be empty")
	}
	path := "/api/voice-memory/" + url.PathEscape(schemeID) + "?language=" + url.QueryEscape(tag.String())

	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Memory{}, err
	}
	if status != http.StatusOK {
		return Memory{}, statusError("voice memory", status, body)
	}

	var raw memoryResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Memory{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if (raw.Success != nil && !*raw.Success) || raw.AudioURL == "" {
		return Memory{}, fmt.Errorf("%w for %s: %s", ErrNoClip, schemeID, raw.Error)
	}

	m := Memory{
		AudioURL:   raw.AudioURL,
		FarmerName: raw.FarmerName,
		District:   raw.District,
		Scheme:     raw.Scheme,
		Language:   lang.Default,
	}
	if raw.Language != "" {
		tag, err := lang.Parse(raw.Language)
		if err != nil {
			return Memory{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		m.Language = tag
	}
	return m, nil
}

// Health probes the backend.
func (c *Client) Health(ctx context.Context) error {
	body, status, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError("health", status, body)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func statusError(what string, status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("%s request failed with status %d: %s", what, status, string(body))
	}
	return fmt.Errorf("%s request failed: %s (code: %s)", what, errResp.Error, errResp.Code)
}
