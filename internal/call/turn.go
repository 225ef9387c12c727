package call

import (
	"context"
	"errors"
	"time"

	"voicebridge/internal/asr"
	"voicebridge/internal/chat"
	"voicebridge/internal/events"
	"voicebridge/internal/lang"
	"voicebridge/internal/playback"
	"voicebridge/internal/state"
)

// opening appends the greeting of the call language and speaks it.
func (o *Orchestrator) opening(ctx context.Context, id string, tag lang.Tag) {
	l, ok := lang.Lookup(tag)
	if !ok {
		l = lang.MustLookup(lang.Default)
	}
	greeting := l.Greeting

	var (
		turnCtx context.Context
		seq     uint64
	)
	err := o.machine.Update(id, func(tx *state.Tx) error {
		tx.AppendTurn(state.Turn{Role: state.RoleAssistant, Text: greeting, Language: l.Tag})
		if _, _, err := tx.Fire(state.EventOpeningReady); err != nil {
			return err
		}
		turnCtx, seq = o.beginTurn(ctx)
		return nil
	})
	if err != nil {
		return
	}
	o.publishTurn(id, state.RoleAssistant, greeting, l.Tag)
	o.notify()

	o.speak(ctx, turnCtx, seq, id, playback.Request{FallbackText: greeting, Language: l.Tag}, greeting)
}

// speak resolves audio for text when the request carries none, plays the
// turn, and returns the call to waiting unless it was interrupted. The turn
// must have been begun in the same update that entered speaking, so a
// barge-in always finds it.
func (o *Orchestrator) speak(ctx, turnCtx context.Context, seq uint64, id string, req playback.Request, text string) {
	defer o.endTurn(seq)

	if req.PrimaryURL == "" {
		res, err := o.deps.Resolver.Resolve(turnCtx, text, req.Language)
		switch {
		case err == nil && res.Local:
			req.FallbackText = res.Text
		case err == nil:
			req.PrimaryURL = res.URL
			req.FallbackText = res.Text
		case turnCtx.Err() != nil:
			return
		default:
			req.FallbackText = ""
			o.log.Error().Err(err).Str("session", id).Msg("No audio for assistant turn")
			o.notice(id, state.NoticeNoAudio, "Audio could not be produced for this reply.")
		}
	}

	if req.PrimaryURL != "" || req.FallbackText != "" || req.MemoryURL != "" {
		if err := o.deps.Player.Play(turnCtx, req); err != nil {
			if turnCtx.Err() != nil {
				o.log.Debug().Err(err).Str("session", id).Msg("Playback interrupted")
				return
			}
			o.log.Warn().Err(err).Str("session", id).Msg("Playback failed")
		}
	}

	err := o.machine.Update(id, func(tx *state.Tx) error {
		if !o.isTurn(seq) || tx.State() != state.StateSpeaking {
			return errSkip
		}
		_, _, err := tx.Fire(state.EventPlaybackDone)
		return err
	})
	if err != nil {
		return
	}
	o.notify()
	o.afterSpeaking(ctx, id)
}

var errSkip = errors.New("skip")

// afterSpeaking starts the next listen in continuous mode.
func (o *Orchestrator) afterSpeaking(ctx context.Context, id string) {
	s := o.machine.Session()
	if !s.IsConversationActive || o.deps.Recognizer == nil {
		return
	}
	if err := wait(ctx, o.cfg.RelistenIn); err != nil {
		return
	}
	if err := o.startListening(ctx, id, 0); err != nil && !errors.Is(err, state.ErrStaleSession) {
		o.log.Debug().Err(err).Str("session", id).Msg("Auto-listen skipped")
	}
}

// startListening moves to recording and runs one recognition in the
// background. retries counts consecutive silent restarts.
func (o *Orchestrator) startListening(ctx context.Context, id string, retries int) error {
	if o.deps.Recognizer == nil {
		o.notice(id, state.NoticeMicrophone, "Voice input is unavailable. Please type your question.")
		return ErrNoRecognizer
	}

	tag := o.machine.Session().Language
	var seq uint64
	err := o.machine.Update(id, func(tx *state.Tx) error {
		if _, _, err := tx.Fire(state.EventStartRecording); err != nil {
			return err
		}
		seq = o.nextListen()
		return nil
	})
	if err != nil {
		return err
	}
	o.notify()

	o.goTurn(func() { o.listen(ctx, id, tag, seq, retries) })
	return nil
}

func (o *Orchestrator) listen(ctx context.Context, id string, tag lang.Tag, seq uint64, retries int) {
	captured := asr.WithCaptured(func() {
		err := o.machine.Update(id, func(tx *state.Tx) error {
			if !o.isListen(seq) {
				return errSkip
			}
			_, _, err := tx.Fire(state.EventFinalResult)
			return err
		})
		if err == nil {
			o.notify()
		}
	})

	attempt, err := o.deps.Recognizer.Listen(ctx, tag, captured)
	if err != nil {
		o.recognitionFailed(ctx, id, seq, err, retries)
		return
	}

	text := attempt.Transcript
	err = o.machine.Update(id, func(tx *state.Tx) error {
		if !o.isListen(seq) {
			return errSkip
		}
		if tx.State() == state.StateRecording {
			if _, _, err := tx.Fire(state.EventFinalResult); err != nil {
				return err
			}
		}
		if tx.State() != state.StateTranscribing {
			return errSkip
		}
		tx.AppendTurn(state.Turn{Role: state.RoleUser, Text: text, Language: tag})
		tx.SetDetected(o.detector.Detect(text))
		tx.ClearNotice()
		_, _, err := tx.Fire(state.EventTranscribed)
		return err
	})
	if err != nil {
		return
	}
	o.log.Info().
		Str("session", id).
		Float64("confidence", attempt.Confidence).
		Bool("alternative", attempt.UsedAlt).
		Msg("Transcribed user turn")
	o.publishTurn(id, state.RoleUser, text, tag)
	o.notify()

	o.respond(ctx, id, text)
}

// recognitionFailed returns the call to waiting, surfacing a notice for
// errors the user must act on, and silently listens again for transient
// ones while the conversation is continuous.
func (o *Orchestrator) recognitionFailed(ctx context.Context, id string, seq uint64, err error, retries int) {
	kind := asr.Kind(err)
	if kind == "aborted" {
		// cancelled by the user or the end of the call
		return
	}

	var notice state.NoticeKind
	var msg string
	switch kind {
	case "not_allowed":
		notice, msg = state.NoticePermission, "Microphone permission denied. Please allow access or type your question."
	case "network":
		notice, msg = state.NoticeNetwork, "Network error during speech recognition. Please try again."
	}

	ferr := o.machine.Update(id, func(tx *state.Tx) error {
		if !o.isListen(seq) {
			return errSkip
		}
		ev := state.EventRecognitionFailed
		if kind == "no_speech" && tx.State() == state.StateRecording {
			ev = state.EventNoSpeech
		}
		if !state.Can(tx.State(), ev) {
			return errSkip
		}
		if notice != "" {
			tx.SetNotice(notice, msg)
		}
		_, _, err := tx.Fire(ev)
		return err
	})
	if ferr != nil {
		return
	}

	if notice != "" {
		o.log.Error().Err(err).Str("session", id).Msg("Speech recognition failed")
		o.publishNotice(id, notice, msg)
	} else {
		o.log.Warn().Err(err).Str("session", id).Str("kind", kind).Msg("Speech recognition ended without result")
	}
	o.notify()

	if !asr.Retryable(err) || !o.machine.Session().IsConversationActive {
		return
	}
	if o.cfg.MaxRetries > 0 && retries >= o.cfg.MaxRetries {
		o.log.Info().Str("session", id).Int("retries", retries).Msg("Giving up auto-listen")
		return
	}
	if err := wait(ctx, o.cfg.NoSpeechBackoff); err != nil {
		return
	}
	o.startListening(ctx, id, retries+1)
}

// respond sends the user's text to the chat backend and speaks the reply.
func (o *Orchestrator) respond(ctx context.Context, id, text string) {
	s := o.machine.Session()
	if s.ID != id || len(s.History) == 0 {
		return
	}
	tag := s.Language

	normalized := chat.NormalizeTranscript(text)
	history := make([]chat.Message, 0, len(s.History))
	for _, t := range s.History[:len(s.History)-1] {
		history = append(history, chat.Message{Role: string(t.Role), Content: t.Text})
	}
	history = append(history, chat.Message{Role: string(state.RoleUser), Content: normalized})

	start := time.Now()
	resp, err := o.deps.Chat.Chat(ctx, chat.Request{
		Message:             normalized,
		FarmerProfile:       o.cfg.Profile,
		ConversationHistory: history,
		Language:            tag,
	})
	o.metrics.ChatLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.metrics.ChatErrors.Inc()
		o.log.Error().Err(err).Str("session", id).Msg("Chat request failed")
		const msg = "Sorry, I could not get an answer. Please try again."
		if o.machine.Update(id, func(tx *state.Tx) error {
			tx.SetNotice(state.NoticeChat, msg)
			_, _, err := tx.Fire(state.EventChatFailed)
			return err
		}) == nil {
			o.publishNotice(id, state.NoticeChat, msg)
			o.notify()
		}
		return
	}

	req := playback.Request{
		PrimaryURL:   resp.AudioURL,
		FallbackText: resp.ResponseText,
		Language:     tag,
	}
	turn := state.Turn{Role: state.RoleAssistant, Text: resp.ResponseText, Language: tag}

	if resp.VoiceMemoryClip != "" {
		mem, err := o.deps.Chat.VoiceMemory(ctx, resp.VoiceMemoryClip, tag)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Warn().Err(err).Str("scheme", resp.VoiceMemoryClip).Msg("Voice memory lookup failed")
		} else {
			turn.VoiceMemoryAudioRef = mem.AudioURL
			turn.VoiceMemoryLabel = mem.Label()
			req.MemoryURL = mem.AudioURL
			req.MemoryLanguage = mem.Language
		}
	}

	var (
		turnCtx context.Context
		seq     uint64
	)
	err = o.machine.Update(id, func(tx *state.Tx) error {
		tx.AppendTurn(turn)
		tx.MergeSchemes(resp.SchemesMentioned)
		if _, _, err := tx.Fire(state.EventChatResponded); err != nil {
			return err
		}
		turnCtx, seq = o.beginTurn(ctx)
		return nil
	})
	if err != nil {
		return
	}
	o.publishTurn(id, state.RoleAssistant, turn.Text, tag)
	o.notify()

	o.speak(ctx, turnCtx, seq, id, req, resp.ResponseText)
}

// beginTurn derives the context of one spoken turn; barge-in cancels it.
func (o *Orchestrator) beginTurn(ctx context.Context) (context.Context, uint64) {
	turnCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turnCancel != nil {
		o.turnCancel()
	}
	o.turnSeq++
	o.turnCancel = cancel
	return turnCtx, o.turnSeq
}

func (o *Orchestrator) endTurn(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turnSeq == seq && o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
	}
}

// nextListen starts a new recognition generation; results of older ones
// are dropped.
func (o *Orchestrator) nextListen() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listenSeq++
	return o.listenSeq
}

func (o *Orchestrator) isListen(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listenSeq == seq
}

// notice surfaces a user-visible error on the session.
func (o *Orchestrator) notice(id string, kind state.NoticeKind, msg string) {
	err := o.machine.Update(id, func(tx *state.Tx) error {
		tx.SetNotice(kind, msg)
		return nil
	})
	if err == nil {
		o.publishNotice(id, kind, msg)
		o.notify()
	}
}

func (o *Orchestrator) publishNotice(id string, kind state.NoticeKind, msg string) {
	o.publish(id, events.Event{
		Type: events.TypeNotice,
		Data: map[string]string{"kind": string(kind), "message": msg},
	})
}

func (o *Orchestrator) isTurn(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnSeq == seq
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

