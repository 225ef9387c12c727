// Package state implements the call state machine: the legal states of a
// voice call, the events that move between them, and the session value the
// UI observes.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
	"voicebridge/internal/metrics"
)

// CallState is the phase of the call.
type CallState int

const (
	StateIdle CallState = iota
	StateConnecting
	StateSpeaking
	StateWaiting
	StateRecording
	StateTranscribing
	StateThinking
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateSpeaking:
		return "SAHAYA_SPEAKING"
	case StateWaiting:
		return "WAITING"
	case StateRecording:
		return "RECORDING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateThinking:
		return "THINKING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event drives a transition.
type Event int

const (
	EventStartCall Event = iota
	EventOpeningReady
	EventPlaybackDone
	EventStartRecording
	EventCancelRecording
	EventSubmitText
	EventFinalResult
	EventTranscribed
	EventNoSpeech
	EventRecognitionFailed
	EventChatResponded
	EventChatFailed
	EventBargeIn
	EventEndCall
)

var eventNames = [...]string{
	"start_call",
	"opening_ready",
	"playback_done",
	"start_recording",
	"cancel_recording",
	"submit_text",
	"final_result",
	"transcribed",
	"no_speech",
	"recognition_failed",
	"chat_responded",
	"chat_failed",
	"barge_in",
	"end_call",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Errors returned by the machine.
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrStaleSession      = errors.New("session is no longer current")
	ErrNoSession         = errors.New("no active call")
)

// transitions lists every legal (state, event) pair. EventEndCall is legal
// from every state and handled separately.
var transitions = map[CallState]map[Event]CallState{
	StateIdle: {
		EventStartCall: StateConnecting,
	},
	StateConnecting: {
		EventOpeningReady: StateSpeaking,
	},
	StateSpeaking: {
		EventPlaybackDone: StateWaiting,
		EventBargeIn:      StateWaiting,
	},
	StateWaiting: {
		EventStartRecording: StateRecording,
		EventSubmitText:     StateThinking,
		EventBargeIn:        StateWaiting,
	},
	StateRecording: {
		EventFinalResult:       StateTranscribing,
		EventNoSpeech:          StateWaiting,
		EventRecognitionFailed: StateWaiting,
		EventCancelRecording:   StateWaiting,
	},
	StateTranscribing: {
		EventTranscribed:       StateThinking,
		EventRecognitionFailed: StateWaiting,
	},
	StateThinking: {
		EventChatResponded: StateSpeaking,
		EventChatFailed:    StateWaiting,
	},
}

// Can reports whether ev is legal in s.
func Can(s CallState, ev Event) bool {
	if ev == EventEndCall {
		return true
	}
	_, ok := transitions[s][ev]
	return ok
}

// Config configures a Machine.
type Config struct {
	Language   lang.Tag
	Continuous bool
	Metrics    *metrics.Metrics
}

// Machine owns the call session. Every mutation happens under its lock, and
// the input/speaking flags are derived from the target state so they can
// never disagree with it.
type Machine struct {
	mu      sync.Mutex
	s       Session
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewMachine returns an idle machine.
func NewMachine(cfg Config) *Machine {
	if cfg.Language == "" {
		cfg.Language = lang.Default
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics(nil)
	}
	return &Machine{
		s: Session{
			State:                StateIdle,
			Language:             cfg.Language,
			DetectedLanguage:     cfg.Language,
			IsConversationActive: cfg.Continuous,
		},
		metrics: cfg.Metrics,
		log:     logging.WithComponent("state"),
		now:     time.Now,
	}
}

// Fire applies ev to the current session.
func (m *Machine) Fire(ev Event) (from, to CallState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fire(ev)
}

func (m *Machine) fire(ev Event) (CallState, CallState, error) {
	from := m.s.State

	if ev == EventEndCall {
		if from == StateIdle {
			return from, from, nil
		}
		m.setState(StateIdle)
		m.metrics.CallsEnded.Inc()
		return from, StateIdle, nil
	}

	to, ok := transitions[from][ev]
	if !ok {
		return from, from, fmt.Errorf("%w: %s in %s", ErrIllegalTransition, ev, from)
	}

	if ev == EventStartCall {
		m.s.ID = uuid.NewString()
		m.s.History = nil
		m.s.MatchedSchemes = nil
		m.s.Notice = nil
		m.s.DetectedLanguage = m.s.Language
		m.metrics.CallsStarted.Inc()
	}
	m.setState(to)
	return from, to, nil
}

func (m *Machine) setState(to CallState) {
	from := m.s.State
	m.s.State = to
	m.s.InputEnabled = to == StateWaiting
	m.s.IsSpeaking = to == StateSpeaking
	if from != to {
		m.log.Info().Str("session", m.s.ID).Msgf("State changed: %s -> %s", from, to)
		m.metrics.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	}
}

// Session returns a snapshot of the session.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.clone()
}

// State returns the current state.
func (m *Machine) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.State
}

// ID returns the current session id, empty before the first call.
func (m *Machine) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ID
}

// IsCurrent reports whether id names the live (non-idle) session.
func (m *Machine) IsCurrent(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(id)
}

func (m *Machine) current(id string) bool {
	return id != "" && id == m.s.ID && m.s.State != StateIdle
}

// SetLanguage selects the session language. It takes effect for the next
// recognition and synthesis.
func (m *Machine) SetLanguage(tag lang.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.Language != tag {
		m.log.Info().Str("session", m.s.ID).Msgf("Language changed: %s -> %s", m.s.Language, tag)
	}
	m.s.Language = tag
}

// SetContinuous toggles automatic listening after each assistant turn.
func (m *Machine) SetContinuous(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.IsConversationActive = on
}

// Update runs fn atomically against session id. It returns ErrStaleSession
// when the call has ended or been replaced, so late completions of
// asynchronous work cannot touch a newer session.
func (m *Machine) Update(id string, fn func(tx *Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(id) {
		return ErrStaleSession
	}
	return fn(&Tx{m: m})
}

// Tx mutates the session inside Update.
type Tx struct {
	m *Machine
}

// Fire applies ev.
func (tx *Tx) Fire(ev Event) (CallState, CallState, error) {
	return tx.m.fire(ev)
}

// State returns the current state.
func (tx *Tx) State() CallState { return tx.m.s.State }

// Session returns a snapshot.
func (tx *Tx) Session() Session { return tx.m.s.clone() }

// AppendTurn appends t to the history.
func (tx *Tx) AppendTurn(t Turn) {
	if t.At.IsZero() {
		t.At = tx.m.now()
	}
	tx.m.s.History = append(tx.m.s.History, t)
	tx.m.metrics.TurnsAdded.WithLabelValues(string(t.Role)).Inc()
}

// SetDetected records the advisory detected language.
func (tx *Tx) SetDetected(tag lang.Tag) {
	tx.m.s.DetectedLanguage = tag
}

// MergeSchemes adds ids to the matched schemes, keeping first-seen order.
func (tx *Tx) MergeSchemes(ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		seen := false
		for _, have := range tx.m.s.MatchedSchemes {
			if have == id {
				seen = true
				break
			}
		}
		if !seen {
			tx.m.s.MatchedSchemes = append(tx.m.s.MatchedSchemes, id)
		}
	}
}

// SetNotice publishes a user-visible error.
func (tx *Tx) SetNotice(kind NoticeKind, msg string) {
	tx.m.s.Notice = &Notice{Kind: kind, Message: msg, At: tx.m.now()}
	tx.m.metrics.Notices.WithLabelValues(string(kind)).Inc()
}

// ClearNotice removes the current notice.
func (tx *Tx) ClearNotice() {
	tx.m.s.Notice = nil
}
