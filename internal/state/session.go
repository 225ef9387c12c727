package state

import (
	"time"

	"voicebridge/internal/lang"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Turn is one message in the conversation. Turns are never edited after
// they are appended.
type Turn struct {
	Role                Role      `json:"role"`
	Text                string    `json:"text"`
	Language            lang.Tag  `json:"language,omitempty"`
	VoiceMemoryAudioRef string    `json:"voice_memory_audio_ref,omitempty"`
	VoiceMemoryLabel    string    `json:"voice_memory_label,omitempty"`
	At                  time.Time `json:"at"`
}

// NoticeKind classifies a user-visible failure.
type NoticeKind string

const (
	NoticePermission NoticeKind = "permission"
	NoticeNetwork    NoticeKind = "network"
	NoticeChat       NoticeKind = "chat"
	NoticeNoAudio    NoticeKind = "no_audio"
	NoticeMicrophone NoticeKind = "microphone"
)

// Notice is the latest user-visible error.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Session is a read-only snapshot of the live call.
type Session struct {
	ID                   string    `json:"id,omitempty"`
	State                CallState `json:"state"`
	Language             lang.Tag  `json:"language"`
	DetectedLanguage     lang.Tag  `json:"detected_language"`
	InputEnabled         bool      `json:"input_enabled"`
	IsSpeaking           bool      `json:"is_speaking"`
	IsConversationActive bool      `json:"is_conversation_active"`
	History              []Turn    `json:"history"`
	MatchedSchemes       []string  `json:"matched_schemes"`
	Notice               *Notice   `json:"notice,omitempty"`
}

func (s Session) clone() Session {
	c := s
	c.History = append([]Turn(nil), s.History...)
	c.MatchedSchemes = append([]string(nil), s.MatchedSchemes...)
	if s.Notice != nil {
		n := *s.Notice
		c.Notice = &n
	}
	return c
}

// LastTurn returns the most recent turn, if any.
func (s Session) LastTurn() (Turn, bool) {
	if len(s.History) == 0 {
		return Turn{}, false
	}
	return s.History[len(s.History)-1], true
}
