package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"voicebridge/internal/asr"
	"voicebridge/internal/audio"
	"voicebridge/internal/call"
	"voicebridge/internal/chat"
	"voicebridge/internal/config"
	"voicebridge/internal/events"
	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
	"voicebridge/internal/metrics"
	"voicebridge/internal/playback"
	"voicebridge/internal/tts"
	"voicebridge/internal/vad"
)

// app holds the wired components for one process.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	clips     *audio.Registry
	chat      *chat.Client
	vad       *vad.Client
	resolver  *tts.Resolver
	sequencer *playback.Sequencer
	events    *events.Publisher
	call      *call.Orchestrator

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, withMic bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      logging.WithComponent("main"),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry)
	a.clips = audio.NewRegistry(a.metrics)

	out, err := a.output()
	if err != nil {
		return nil, err
	}

	fetcher, err := playback.NewHTTPFetcher(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	if err != nil {
		return nil, err
	}
	decoder := audio.NewDecoder(cfg.Audio.SampleRate)

	var synth playback.Synthesizer
	if cfg.TTS.LocalEnabled && cfg.Recognition.OpenAIAPIKey != "" {
		synth = tts.NewOpenAISynthesizer(cfg.Recognition.OpenAIAPIKey, cfg.TTS.LocalModel, cfg.TTS.LocalVoice)
	} else {
		a.log.Warn().Msg("Local synthesis disabled, replies without backend audio will be silent")
	}
	speaker := playback.NewLocalSpeaker(synth, decoder, out, a.clips)

	backendTTS := tts.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	a.resolver = tts.NewResolver(tts.ResolverConfig{
		PrimaryVoice:    cfg.TTS.PrimaryVoice,
		RegionalTimeout: cfg.TTS.RegionalTimeout,
	}, backendTTS, backendTTS, speaker, a.metrics)

	a.sequencer = playback.NewSequencer(playback.Config{
		ClipPause:  cfg.Call.ClipPause,
		FinalPause: cfg.Call.FinalPause,
	}, fetcher, decoder, out, speaker, a.clips, a.metrics)

	a.chat = chat.NewClientWithConfig(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	a.events = events.New(events.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Enabled: cfg.Kafka.Enabled,
	}, a.metrics)
	a.closers = append(a.closers, a.events.Close)

	var recognizer call.Recognizer
	if withMic {
		ctrl, err := a.recognizer(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("Speech recognition unavailable, text input only")
		} else {
			recognizer = ctrl
		}
	}

	tag, err := lang.Parse(cfg.Call.Language)
	if err != nil {
		return nil, err
	}
	a.call = call.New(call.Config{
		Language:        tag,
		Continuous:      cfg.Call.Continuous,
		RelistenIn:      cfg.Call.RelistenIn,
		NoSpeechBackoff: cfg.Recognition.NoSpeechBackoff,
		MaxRetries:      cfg.Recognition.MaxRetries,
		Profile:         chat.DemoFarmer(),
		Metrics:         a.metrics,
	}, call.Deps{
		Recognizer: recognizer,
		Chat:       a.chat,
		Resolver:   a.resolver,
		Player:     a.sequencer,
		Registry:   a.clips,
		Publisher:  a.events,
	})
	return a, nil
}

func (a *app) output() (playback.Output, error) {
	if !a.cfg.Audio.Enabled {
		a.log.Info().Msg("Audio output disabled, clips are timed silently")
		return playback.SilentOutput{}, nil
	}
	dev, err := audio.OpenDevice(a.cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	a.closers = append(a.closers, dev.Close)
	return playback.DeviceOutput(dev), nil
}

func (a *app) recognizer(ctx context.Context) (*asr.Controller, error) {
	rc := a.cfg.Recognition

	var transcriber asr.Transcriber
	switch rc.Engine {
	case "whisper":
		if rc.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("whisper engine requires OPENAI_API_KEY")
		}
		transcriber = asr.NewWhisperTranscriber(rc.OpenAIAPIKey)
	default:
		g, err := asr.NewGoogleTranscriber(ctx, rc.GoogleCredentials)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		transcriber = g
	}

	var checker asr.SpeechChecker
	if rc.VADURL != "" {
		a.vad = vad.NewClient(rc.VADURL, vad.DetectRequest{Threshold: 0.5})
		checker = a.vad
	}

	capture := asr.NewEnergyCapture(asr.CaptureConfig{
		EnergyThreshold: rc.EnergyThreshold,
		SilenceHold:     rc.SilenceHold,
		NoSpeechTimeout: rc.NoSpeechTimeout,
		MaxUtterance:    rc.MaxUtterance,
	}, asr.MicrophoneSource(a.cfg.Audio.SampleRate))

	return asr.NewController(asr.Config{
		ConfidenceThreshold: rc.ConfidenceThreshold,
		Metrics:             a.metrics,
	}, capture, transcriber, checker), nil
}

// checkServices logs whether the backend and the optional VAD service
// answer. The call still starts when they do not.
func (a *app) checkServices(ctx context.Context) error {
	var errs []error

	if err := a.chat.Health(ctx); err != nil {
		a.log.Warn().Err(err).Str("url", a.chat.BaseURL()).Msg("Backend health check failed")
		errs = append(errs, fmt.Errorf("backend: %w", err))
	} else {
		a.log.Info().Str("url", a.chat.BaseURL()).Msg("Backend is healthy")
	}

	if a.vad != nil {
		health, err := a.vad.Health(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("VAD health check failed, captures are transcribed unchecked")
			errs = append(errs, fmt.Errorf("vad: %w", err))
		} else {
			a.log.Info().Str("status", health.Status).Msg("VAD service is healthy")
		}
	}
	return errors.Join(errs...)
}

func (a *app) Close() {
	if a.call != nil {
		a.call.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("Close failed")
		}
	}
}
