package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
	"voicebridge/internal/metrics"
)

// ErrNoAudio means every tier failed; the turn has no spoken output.
var ErrNoAudio = errors.New("no audio produced")

// Tier names a synthesis source.
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierRegional Tier = "regional"
	TierLocal    Tier = "local"
)

// Primary synthesizes the default language.
type Primary interface {
	TextToSpeech(ctx context.Context, text, voice string) (string, error)
}

// Regional synthesizes the regional languages.
type Regional interface {
	RegionalTTS(ctx context.Context, text string, tag lang.Tag) (string, error)
}

// Local reports whether local synthesis can speak at play time.
type Local interface {
	Available() bool
}

// Result is a resolved audio source. Exactly one of URL or Local is set;
// Local results carry the text to speak.
type Result struct {
	Tier     Tier
	URL      string
	Local    bool
	Text     string
	Language lang.Tag
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	PrimaryVoice    string
	RegionalTimeout time.Duration
}

// Resolver walks the synthesis tiers for a language and returns the first
// that produces audio.
type Resolver struct {
	cfg      ResolverConfig
	primary  Primary
	regional Regional
	local    Local
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewResolver creates a resolver. Any tier may be nil.
func NewResolver(cfg ResolverConfig, primary Primary, regional Regional, local Local, m *metrics.Metrics) *Resolver {
	if cfg.RegionalTimeout <= 0 {
		cfg.RegionalTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Resolver{
		cfg:      cfg,
		primary:  primary,
		regional: regional,
		local:    local,
		metrics:  m,
		log:      logging.WithComponent("tts"),
	}
}

// Resolve finds audio for text in tag. Tier failures are logged and fall
// through; ErrNoAudio is returned only when all tiers are exhausted or the
// cleaned text is empty.
func (r *Resolver) Resolve(ctx context.Context, text string, tag lang.Tag) (Result, error) {
	start := time.Now()
	defer func() { r.metrics.TTSLatency.Observe(time.Since(start).Seconds()) }()

	text = CleanText(text)
	if text == "" {
		return Result{}, fmt.Errorf("%w: nothing to speak", ErrNoAudio)
	}

	if tag.IsDefault() {
		if url, err := r.tryPrimary(ctx, text); err == nil {
			return Result{Tier: TierPrimary, URL: url, Text: text, Language: tag}, nil
		}
	} else {
		if url, err := r.tryRegional(ctx, text, tag); err == nil {
			return Result{Tier: TierRegional, URL: url, Text: text, Language: tag}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if r.local != nil && r.local.Available() {
		r.metrics.RecordTier(string(TierLocal), nil)
		return Result{Tier: TierLocal, Local: true, Text: text, Language: tag}, nil
	}
	r.metrics.RecordTier(string(TierLocal), ErrNoAudio)
	r.log.Warn().Str("language", tag.String()).Msg("Local synthesis unavailable, no audio for turn")
	return Result{}, ErrNoAudio
}

func (r *Resolver) tryPrimary(ctx context.Context, text string) (string, error) {
	if r.primary == nil {
		return "", errors.New("primary tier not configured")
	}
	url, err := r.primary.TextToSpeech(ctx, text, r.cfg.PrimaryVoice)
	if err == nil && url == "" {
		err = ErrNoURL
	}
	r.metrics.RecordTier(string(TierPrimary), err)
	if err != nil {
		r.log.Warn().Err(err).Msg("Primary synthesis failed, falling through")
		return "", err
	}
	return url, nil
}

func (r *Resolver) tryRegional(ctx context.Context, text string, tag lang.Tag) (string, error) {
	if r.regional == nil {
		return "", errors.New("regional tier not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RegionalTimeout)
	defer cancel()

	url, err := r.regional.RegionalTTS(ctx, text, tag)
	if err == nil && url == "" {
		err = ErrNoURL
	}
	r.metrics.RecordTier(string(TierRegional), err)
	if err != nil {
		r.log.Warn().Err(err).Str("language", tag.String()).Msg("Regional synthesis failed, falling through")
		return "", err
	}
	return url, nil
}
