// Package metrics provides Prometheus metrics for the voice orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicebridge"

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// Call metrics
	CallsStarted prometheus.Counter
	CallsEnded   prometheus.Counter
	Transitions  *prometheus.CounterVec
	TurnsAdded   *prometheus.CounterVec
	BargeIns     prometheus.Counter
	Notices      *prometheus.CounterVec

	// Recognition metrics
	RecognitionResults *prometheus.CounterVec
	RecognitionErrors  *prometheus.CounterVec
	AlternativesUsed   prometheus.Counter

	// Chat metrics
	ChatLatency prometheus.Histogram
	ChatErrors  prometheus.Counter

	// TTS metrics
	TTSTierResults *prometheus.CounterVec
	TTSLatency     prometheus.Histogram

	// Playback metrics
	ClipsPlayed *prometheus.CounterVec
	LiveHandles prometheus.Gauge

	// Event publishing
	EventsPublished *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg. A nil
// registerer creates unregistered instruments, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of call sessions started",
		}),
		CallsEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of call sessions ended",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Call state transitions by source and target state",
		}, []string{"from", "to"}),
		TurnsAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns appended by role",
		}, []string{"role"}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Assistant playbacks interrupted by user input",
		}),
		Notices: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "User-visible error notices by kind",
		}, []string{"kind"}),
		RecognitionResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_results_total",
			Help:      "Final recognition results by language",
		}, []string{"language"}),
		RecognitionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Recognition errors by kind",
		}, []string{"kind"}),
		AlternativesUsed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_alternatives_used_total",
			Help:      "Low-confidence hypotheses replaced by a better alternative",
		}),
		ChatLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_latency_seconds",
			Help:      "Chat service round-trip latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}),
		ChatErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_errors_total",
			Help:      "Failed chat service calls",
		}),
		TTSTierResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_tier_results_total",
			Help:      "Synthesis tier attempts by tier and result",
		}, []string{"tier", "result"}),
		TTSLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_resolve_seconds",
			Help:      "Time to resolve an audio source for a turn",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),
		ClipsPlayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_total",
			Help:      "Audio clips by kind and outcome",
		}, []string{"kind", "outcome"}),
		LiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_audio_handles",
			Help:      "Audio handles currently registered for playback",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Session events published by type and status",
		}, []string{"type", "status"}),
	}
}

// RecordTier records one synthesis tier outcome.
func (m *Metrics) RecordTier(tier string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.TTSTierResults.WithLabelValues(tier, result).Inc()
}

// RecordClip records one playback clip outcome.
func (m *Metrics) RecordClip(kind, outcome string) {
	m.ClipsPlayed.WithLabelValues(kind, outcome).Inc()
}
