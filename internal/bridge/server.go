// Package bridge exposes a call to a browser or other UI over a WebSocket:
// session snapshots flow out on every change, user actions flow in.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
	"voicebridge/internal/state"
)

// Call is the set of UI actions and projections the bridge serves.
type Call interface {
	StartCall() error
	EndCall()
	SubmitText(text string) error
	ToggleRecording() error
	SetLanguage(tag lang.Tag) error
	SetContinuous(on bool)
	Snapshot() state.Session
	Subscribe() (<-chan state.Session, func())
}

// Action is a client request.
type Action struct {
	Action     string `json:"action"`
	Text       string `json:"text,omitempty"`
	Language   string `json:"language,omitempty"`
	Continuous *bool  `json:"continuous,omitempty"`
}

// Message is sent to the client.
type Message struct {
	Type    string         `json:"type"` // snapshot, error
	Session *state.Session `json:"session,omitempty"`
	Action  string         `json:"action,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Server serves /ws, /health and /metrics.
type Server struct {
	call     Call
	server   *http.Server
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewServer creates a bridge for call on addr. A nil gatherer serves the
// default registry.
func NewServer(addr string, call Call, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		call: call,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the bridge listens on loopback for a local page
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.WithComponent("bridge"),
	}

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"state":  s.call.Snapshot().State.String(),
		})
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// ListenAndServe blocks serving until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting UI bridge")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down UI bridge")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	snaps, unsubscribe := s.call.Subscribe()
	defer unsubscribe()

	replies := make(chan Message, 8)
	done := make(chan struct{})
	go s.writeLoop(conn, snaps, replies, done)
	defer close(done)

	for {
		var a Action
		if err := conn.ReadJSON(&a); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("WebSocket read ended")
			}
			return
		}
		if err := s.dispatch(a); err != nil {
			s.log.Debug().Err(err).Str("action", a.Action).Msg("Action rejected")
			select {
			case replies <- Message{Type: "error", Action: a.Action, Error: err.Error()}:
			default:
			}
		}
	}
}

// writeLoop is the only writer on conn.
func (s *Server) writeLoop(conn *websocket.Conn, snaps <-chan state.Session, replies <-chan Message, done <-chan struct{}) {
	for {
		var msg Message
		select {
		case <-done:
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			msg = Message{Type: "snapshot", Session: &snap}
		case msg = <-replies:
		}

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write failed")
			conn.Close()
			return
		}
	}
}

func (s *Server) dispatch(a Action) error {
	switch a.Action {
	case "start_call":
		return s.call.StartCall()
	case "end_call":
		s.call.EndCall()
		return nil
	case "submit_text":
		return s.call.SubmitText(a.Text)
	case "toggle_recording":
		return s.call.ToggleRecording()
	case "set_language":
		tag, err := lang.Parse(a.Language)
		if err != nil {
			return err
		}
		return s.call.SetLanguage(tag)
	case "set_continuous":
		if a.Continuous == nil {
			return errors.New("continuous is required")
		}
		s.call.SetContinuous(*a.Continuous)
		return nil
	default:
		return fmt.Errorf("unknown action %q", a.Action)
	}
}
