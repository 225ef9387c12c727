package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicebridge/internal/lang"
)

func TestClientChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pm kisan ke baare mein batao", req.Message)
		assert.Equal(t, lang.Hindi, req.Language)
		assert.Equal(t, "Ramesh Kumar", req.FarmerProfile.Name)
		require.Len(t, req.ConversationHistory, 2)
		assert.Equal(t, "assistant", req.ConversationHistory[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"success":           true,
			"response_text":     "पीएम किसान में हर साल 6000 रुपये मिलते हैं।",
			"schemes_mentioned": []string{"PM_KISAN"},
			"voice_memory_clip": "PM_KISAN",
			"conversation_id":   "abc",
			"stage":             "discovery",
		})
	}))
	defer srv.Close()

	resp, err := NewClientWithConfig(srv.URL, 5*time.Second).Chat(context.Background(), Request{
		Message:       "pm kisan ke baare mein batao",
		FarmerProfile: DemoFarmer(),
		ConversationHistory: []Message{
			{Role: "assistant", Content: "नमस्ते"},
			{Role: "user", Content: "pm kisan ke baare mein batao"},
		},
		Language: lang.Hindi,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PM_KISAN"}, resp.SchemesMentioned)
	assert.Equal(t, "PM_KISAN", resp.VoiceMemoryClip)
	assert.Empty(t, resp.AudioURL)
	assert.Contains(t, resp.ResponseText, "6000")
}

func TestClientChatSendsEmptyHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.JSONEq(t, `[]`, string(raw["conversation_history"]))
		assert.JSONEq(t, `"hi-IN"`, string(raw["language"]))
		w.Write([]byte(`{"response_text":"ok"}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Chat(context.Background(), Request{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ResponseText)
}

func TestClientChatFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		bad    bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"success":false,"error":"boom","code":"E1"}`},
		{name: "plain text error", status: http.StatusBadGateway, body: `upstream down`},
		{name: "not json", status: http.StatusOK, body: `<html>`, bad: true},
		{name: "missing text", status: http.StatusOK, body: `{"success":true}`, bad: true},
		{name: "unsuccessful", status: http.StatusOK, body: `{"success":false,"error":"quota"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Chat(context.Background(), Request{Message: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.bad, errors.Is(err, ErrBadResponse), "error: %v", err)
		})
	}
}

func TestClientChatRejectsEmptyMessage(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1").Chat(context.Background(), Request{Message: "  "})
	assert.Error(t, err)
}

func TestClientVoiceMemory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/voice-memory/PM_KISAN", r.URL.Path)
		assert.Equal(t, "ta-IN", r.URL.Query().Get("language"))
		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"audio_url":   "/audio/pm_kisan_ta.wav",
			"farmer_name": "Murugan",
			"district":    "Madurai",
			"scheme":      "PM_KISAN",
			"language":    "ta-IN",
			"mock":        true,
		})
	}))
	defer srv.Close()

	m, err := NewClient(srv.URL).VoiceMemory(context.Background(), "PM_KISAN", lang.Tamil)
	require.NoError(t, err)
	assert.Equal(t, "/audio/pm_kisan_ta.wav", m.AudioURL)
	assert.Equal(t, lang.Tamil, m.Language)
	assert.Equal(t, "Murugan, Madurai", m.Label())
}

func TestClientVoiceMemoryBareAudioURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"audio_url":"https://x/clip.mp3"}`))
	}))
	defer srv.Close()

	m, err := NewClient(srv.URL).VoiceMemory(context.Background(), "PM_KISAN", lang.Hindi)
	require.NoError(t, err)
	assert.Equal(t, "https://x/clip.mp3", m.AudioURL)
	assert.Equal(t, lang.Default, m.Language)
	assert.Empty(t, m.Label())
}

func TestClientVoiceMemoryMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/voice-memory/EMPTY" {
			w.Write([]byte(`{"success":true,"audio_url":""}`))
			return
		}
		w.Write([]byte(`{"success":false,"audio_url":"/audio/stale.wav","error":"unknown scheme"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).VoiceMemory(context.Background(), "NOPE", lang.Hindi)
	assert.ErrorIs(t, err, ErrNoClip)
	_, err = NewClient(srv.URL).VoiceMemory(context.Background(), "EMPTY", lang.Hindi)
	assert.ErrorIs(t, err, ErrNoClip)
}

func TestClientHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.NoError(t, c.Health(context.Background()))
	healthy.Store(false)
	assert.Error(t, c.Health(context.Background()))
}

func TestMemoryLabel(t *testing.T) {
	assert.Equal(t, "Lakshmi", Memory{FarmerName: "Lakshmi"}.Label())
	assert.Equal(t, "", Memory{}.Label())
}
