// Package call runs a voice call. The Orchestrator owns the session state
// machine and drives recognition, the chat backend, synthesis and playback
// through one turn after another until the call ends.
package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voicebridge/internal/asr"
	"voicebridge/internal/audio"
	"voicebridge/internal/chat"
	"voicebridge/internal/events"
	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
	"voicebridge/internal/metrics"
	"voicebridge/internal/playback"
	"voicebridge/internal/state"
	"voicebridge/internal/tts"
)

// Errors returned by the UI actions.
var (
	ErrEmptyText    = errors.New("text is empty")
	ErrNoRecognizer = errors.New("voice input unavailable")
	ErrBusy         = errors.New("not accepting input now")
)

// Recognizer captures and transcribes one utterance at a time.
type Recognizer interface {
	Listen(ctx context.Context, tag lang.Tag, opts ...asr.ListenOption) (asr.Attempt, error)
	Abort()
	Active() bool
}

// ChatService is the assistant backend.
type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (chat.Response, error)
	VoiceMemory(ctx context.Context, schemeID string, tag lang.Tag) (chat.Memory, error)
}

// Resolver finds audio for assistant text.
type Resolver interface {
	Resolve(ctx context.Context, text string, tag lang.Tag) (tts.Result, error)
}

// Player plays one turn's audio.
type Player interface {
	Play(ctx context.Context, req playback.Request) error
}

// Publisher receives call events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Config configures an Orchestrator.
type Config struct {
	Language        lang.Tag
	Continuous      bool
	RelistenIn      time.Duration // pause before listening after the assistant speaks
	NoSpeechBackoff time.Duration
	MaxRetries      int // silent re-listens in a row; zero means unlimited
	Profile         chat.FarmerProfile
	Metrics         *metrics.Metrics
}

// Deps are the collaborators of an Orchestrator. Recognizer and Publisher
// may be nil.
type Deps struct {
	Recognizer Recognizer
	Chat       ChatService
	Resolver   Resolver
	Player     Player
	Registry   *audio.Registry
	Publisher  Publisher
}

// Orchestrator is the call controller behind the UI actions.
type Orchestrator struct {
	cfg      Config
	machine  *state.Machine
	deps     Deps
	detector *lang.Detector
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu         sync.Mutex
	callCtx    context.Context
	callCancel context.CancelFunc
	turnCancel context.CancelFunc
	turnSeq    uint64
	listenSeq  uint64
	wg         sync.WaitGroup

	subMu sync.Mutex
	subs  map[chan state.Session]struct{}
}

// New creates an idle orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Language == "" {
		cfg.Language = lang.Default
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics(nil)
	}
	if cfg.Profile == (chat.FarmerProfile{}) {
		cfg.Profile = chat.DemoFarmer()
	}
	if deps.Registry == nil {
		deps.Registry = audio.NewRegistry(cfg.Metrics)
	}
	return &Orchestrator{
		cfg: cfg,
		machine: state.NewMachine(state.Config{
			Language:   cfg.Language,
			Continuous: cfg.Continuous,
			Metrics:    cfg.Metrics,
		}),
		deps:     deps,
		detector: lang.NewDetector(),
		metrics:  cfg.Metrics,
		log:      logging.WithComponent("call"),
		subs:     make(map[chan state.Session]struct{}),
	}
}

// StartCall begins a new call and plays the opening line.
func (o *Orchestrator) StartCall() error {
	if _, _, err := o.machine.Fire(state.EventStartCall); err != nil {
		return err
	}
	s := o.machine.Session()

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.callCtx, o.callCancel = ctx, cancel
	o.mu.Unlock()

	o.log.Info().Str("session", s.ID).Str("language", s.Language.String()).Msg("Call started")
	o.publish(s.ID, events.Event{Type: events.TypeCallStarted, Language: s.Language.String()})
	o.notify()

	o.goTurn(func() { o.opening(ctx, s.ID, s.Language) })
	return nil
}

// EndCall ends the call. Recognition is aborted, every live audio handle is
// stopped and the session is idle before EndCall returns. Ending an idle
// call does nothing.
func (o *Orchestrator) EndCall() {
	o.mu.Lock()
	if o.callCancel != nil {
		o.callCancel()
	}
	o.callCtx, o.callCancel = nil, nil
	o.turnCancel = nil
	o.turnSeq++
	o.listenSeq++
	o.mu.Unlock()

	if o.deps.Recognizer != nil {
		o.deps.Recognizer.Abort()
	}
	stopped := o.deps.Registry.StopAll()

	id := o.machine.ID()
	from, _, _ := o.machine.Fire(state.EventEndCall)
	if from == state.StateIdle {
		return
	}

	o.log.Info().Str("session", id).Int("stopped_clips", stopped).Msg("Call ended")
	o.publish(id, events.Event{Type: events.TypeCallEnded})
	o.notify()
}

// Close ends the call and waits for its background work to finish.
func (o *Orchestrator) Close() {
	o.EndCall()
	o.wg.Wait()
}

// SubmitText sends typed text as the user's turn. Typing while the
// assistant speaks interrupts it.
func (o *Orchestrator) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	ctx, id, ok := o.current()
	if !ok {
		return state.ErrNoSession
	}

	if o.machine.State() == state.StateSpeaking {
		o.bargeIn(id)
	}

	tag := o.machine.Session().Language
	err := o.machine.Update(id, func(tx *state.Tx) error {
		if tx.State() != state.StateWaiting {
			return fmt.Errorf("%w: %s", ErrBusy, tx.State())
		}
		tx.AppendTurn(state.Turn{Role: state.RoleUser, Text: text, Language: tag})
		tx.SetDetected(o.detector.Detect(text))
		tx.ClearNotice()
		_, _, err := tx.Fire(state.EventSubmitText)
		return err
	})
	if err != nil {
		return err
	}
	o.publishTurn(id, state.RoleUser, text, tag)
	o.notify()

	o.goTurn(func() { o.respond(ctx, id, text) })
	return nil
}

// ToggleRecording starts listening when waiting and cancels the capture
// when recording.
func (o *Orchestrator) ToggleRecording() error {
	ctx, id, ok := o.current()
	if !ok {
		return state.ErrNoSession
	}

	switch o.machine.State() {
	case state.StateWaiting:
		return o.startListening(ctx, id, 0)
	case state.StateRecording:
		err := o.machine.Update(id, func(tx *state.Tx) error {
			if _, _, err := tx.Fire(state.EventCancelRecording); err != nil {
				return err
			}
			o.nextListen()
			return nil
		})
		if err != nil {
			return err
		}
		o.deps.Recognizer.Abort()
		o.notify()
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBusy, o.machine.State())
	}
}

// SetLanguage selects the conversation language for the next turn.
func (o *Orchestrator) SetLanguage(tag lang.Tag) error {
	if _, ok := lang.Lookup(tag); !ok {
		return fmt.Errorf("unsupported language %q", tag)
	}
	o.machine.SetLanguage(tag)
	o.notify()
	return nil
}

// SetContinuous toggles listening automatically after each assistant turn.
func (o *Orchestrator) SetContinuous(on bool) {
	o.machine.SetContinuous(on)
	o.notify()
}

// Snapshot returns the current session.
func (o *Orchestrator) Snapshot() state.Session {
	return o.machine.Session()
}

// current returns the live call's context and session id.
func (o *Orchestrator) current() (context.Context, string, bool) {
	o.mu.Lock()
	ctx := o.callCtx
	o.mu.Unlock()
	id := o.machine.ID()
	if ctx == nil || !o.machine.IsCurrent(id) {
		return nil, "", false
	}
	return ctx, id, true
}

// bargeIn silences the assistant and hands the floor to the user.
func (o *Orchestrator) bargeIn(id string) {
	o.mu.Lock()
	cancel := o.turnCancel
	o.turnCancel = nil
	o.turnSeq++
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.deps.Registry.StopAll()

	err := o.machine.Update(id, func(tx *state.Tx) error {
		if tx.State() != state.StateSpeaking {
			return nil
		}
		_, _, err := tx.Fire(state.EventBargeIn)
		return err
	})
	if err == nil {
		o.metrics.BargeIns.Inc()
		o.log.Info().Str("session", id).Msg("Barge-in, playback cancelled")
		o.notify()
	}
}

func (o *Orchestrator) goTurn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

func (o *Orchestrator) publish(id string, ev events.Event) {
	if o.deps.Publisher == nil {
		return
	}
	ev.SessionID = id
	if err := o.deps.Publisher.Publish(context.Background(), ev); err != nil {
		o.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish event")
	}
}

func (o *Orchestrator) publishTurn(id string, role state.Role, text string, tag lang.Tag) {
	o.publish(id, events.Event{
		Type:     events.TypeTurnAppended,
		Language: tag.String(),
		Data:     map[string]string{"role": string(role), "text": text},
	})
}
