// Package events publishes call lifecycle and transcript events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"voicebridge/internal/logging"
	"voicebridge/internal/metrics"
)

// Type names an event.
type Type string

const (
	TypeCallStarted  Type = "call_started"
	TypeCallEnded    Type = "call_ended"
	TypeTurnAppended Type = "turn_appended"
	TypeNotice       Type = "notice"
)

// Event is one published record, keyed by session.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Language  string    `json:"language,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// ErrQueueFull is returned when an event is dropped because the writer
// has fallen behind.
var ErrQueueFull = errors.New("event queue full")

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 10 * time.Second
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Enabled   bool
	QueueSize int
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to a topic, or only logs them when Kafka is
// disabled. Publish never waits on the broker: events are queued and a
// single goroutine writes them in order.
type Publisher struct {
	w       writer
	topic   string
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu     sync.RWMutex
	queue  chan kafka.Message
	closed bool
	done   chan struct{}
}

// New creates a publisher.
func New(cfg Config, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	p := &Publisher{
		topic:   cfg.Topic,
		metrics: m,
		log:     logging.WithComponent("events"),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.start(w, cfg.QueueSize)

	p.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka publisher initialized")
	return p
}

// Publish queues ev. Marshal failures and a full queue are returned;
// write failures are only logged. Callers treat all of them as non-fatal.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to marshal event")
		p.metrics.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		return err
	}

	p.log.Debug().
		Str("session", ev.SessionID).
		Str("type", string(ev.Type)).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if p.w == nil {
		p.metrics.EventsPublished.WithLabelValues(string(ev.Type), "logged").Inc()
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.Type)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("publisher closed")
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		p.log.Warn().Str("session", ev.SessionID).Str("type", string(ev.Type)).Msg("Event queue full, dropping event")
		p.metrics.EventsPublished.WithLabelValues(string(ev.Type), "dropped").Inc()
		return ErrQueueFull
	}
}

func (p *Publisher) start(w writer, size int) {
	if size <= 0 {
		size = defaultQueueSize
	}
	p.w = w
	p.queue = make(chan kafka.Message, size)
	p.done = make(chan struct{})
	go p.run()
}

func (p *Publisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		typ := ""
		if len(msg.Headers) > 0 {
			typ = string(msg.Headers[0].Value)
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		err := p.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.log.Error().
				Err(err).
				Str("topic", p.topic).
				Str("session", string(msg.Key)).
				Msg("Failed to write to Kafka")
			p.metrics.EventsPublished.WithLabelValues(typ, "error").Inc()
			continue
		}
		p.metrics.EventsPublished.WithLabelValues(typ, "ok").Inc()
	}
}

// Close drains the queue and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.w.Close()
}
