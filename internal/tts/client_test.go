package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicebridge/internal/lang"
)

func TestClientTextToSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/text-to-speech", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "नमस्ते", req.Text)
		assert.Equal(t, "Kajal", req.Voice)

		json.NewEncoder(w).Encode(map[string]any{"success": true, "audio_url": "/audio/a.mp3"})
	}))
	defer srv.Close()

	url, err := NewClient(srv.URL+"/", 5*time.Second).TextToSpeech(context.Background(), "नमस्ते", "Kajal")
	require.NoError(t, err)
	assert.Equal(t, "/audio/a.mp3", url)
}

func TestClientRegionalTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sarvam-tts", r.URL.Path)

		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ml-IN", req.Language)

		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "audio_url": "https://s3/ml.wav", "language": "ml-IN", "speaker": "manisha",
		})
	}))
	defer srv.Close()

	url, err := NewClient(srv.URL, 5*time.Second).RegionalTTS(context.Background(), "നമസ്കാരം", lang.Malayalam)
	require.NoError(t, err)
	assert.Equal(t, "https://s3/ml.wav", url)
}

func TestClientAcceptsBareAudioURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"audio_url":"/audio/x.mp3"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	url, err := c.TextToSpeech(context.Background(), "नमस्ते", "Kajal")
	require.NoError(t, err)
	assert.Equal(t, "/audio/x.mp3", url)

	url, err = c.RegionalTTS(context.Background(), "வணக்கம்", lang.Tamil)
	require.NoError(t, err)
	assert.Equal(t, "/audio/x.mp3", url)
}

func TestClientFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		noURL  bool
	}{
		{"server error", http.StatusInternalServerError, `{"success":false,"error":"boom"}`, false},
		{"unsuccessful", http.StatusOK, `{"success":false,"error":"Text is required"}`, true},
		{"missing url", http.StatusOK, `{"success":true}`, true},
		{"explicit failure with url", http.StatusOK, `{"success":false,"audio_url":"/audio/a.mp3"}`, true},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, 5*time.Second).TextToSpeech(context.Background(), "hi", "Kajal")
			require.Error(t, err)
			if tt.noURL {
				assert.ErrorIs(t, err, ErrNoURL)
			}
		})
	}
}

func TestClientRespectsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, 5*time.Second).RegionalTTS(ctx, "வணக்கம்", lang.Tamil)
	assert.Error(t, err)
}

func TestClientRejectsEmptyText(t *testing.T) {
	_, err := NewClient("http://unused", time.Second).TextToSpeech(context.Background(), "", "Kajal")
	assert.Error(t, err)
}
