// Package config loads the orchestrator configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voicebridge/internal/lang"
	"voicebridge/internal/logging"
)

// Config represents the complete orchestrator configuration
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Call        CallConfig        `yaml:"call"`
	Recognition RecognitionConfig `yaml:"recognition"`
	TTS         TTSConfig         `yaml:"tts"`
	Audio       AudioConfig       `yaml:"audio"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Logging     logging.Config    `yaml:"logging"`
}

// BackendConfig points at the chat/TTS/voice-memory HTTP backend
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CallConfig controls the conversation loop
type CallConfig struct {
	Language   string        `yaml:"language"`
	Continuous bool          `yaml:"continuous"`
	ClipPause  time.Duration `yaml:"clip_pause"`  // between primary audio and memory clip
	FinalPause time.Duration `yaml:"final_pause"` // after the last clip
	RelistenIn time.Duration `yaml:"relisten_in"` // delay before auto-listening again
}

// RecognitionConfig controls speech capture and transcription
type RecognitionConfig struct {
	Engine              string        `yaml:"engine"` // google, whisper
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	NoSpeechBackoff     time.Duration `yaml:"no_speech_backoff"`
	MaxRetries          int           `yaml:"max_retries"`
	NoSpeechTimeout     time.Duration `yaml:"no_speech_timeout"`
	MaxUtterance        time.Duration `yaml:"max_utterance"`
	SilenceHold         time.Duration `yaml:"silence_hold"`
	EnergyThreshold     float64       `yaml:"energy_threshold"`
	VADURL              string        `yaml:"vad_url"`
	GoogleCredentials   string        `yaml:"google_credentials"`
	OpenAIAPIKey        string        `yaml:"-"`
}

// TTSConfig controls the synthesis fallback chain
type TTSConfig struct {
	PrimaryVoice    string        `yaml:"primary_voice"`
	RegionalTimeout time.Duration `yaml:"regional_timeout"`
	LocalEnabled    bool          `yaml:"local_enabled"`
	LocalModel      string        `yaml:"local_model"`
	LocalVoice      string        `yaml:"local_voice"` // for languages without their own voice
}

// AudioConfig contains output device parameters
type AudioConfig struct {
	SampleRate int  `yaml:"sample_rate"`
	Enabled    bool `yaml:"enabled"`
}

// BridgeConfig contains the UI bridge listener
type BridgeConfig struct {
	Address string `yaml:"address"`
}

// KafkaConfig controls session event publishing
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns a configuration that runs against a local backend.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 30 * time.Second,
		},
		Call: CallConfig{
			Language:   string(lang.Default),
			Continuous: true,
			ClipPause:  time.Second,
			FinalPause: 600 * time.Millisecond,
			RelistenIn: 500 * time.Millisecond,
		},
		Recognition: RecognitionConfig{
			Engine:              "google",
			ConfidenceThreshold: 0.6,
			NoSpeechBackoff:     300 * time.Millisecond,
			MaxRetries:          5,
			NoSpeechTimeout:     8 * time.Second,
			MaxUtterance:        30 * time.Second,
			SilenceHold:         time.Second,
			EnergyThreshold:     0.02,
		},
		TTS: TTSConfig{
			PrimaryVoice:    "Kajal",
			RegionalTimeout: 10 * time.Second,
			LocalEnabled:    true,
			LocalModel:      "tts-1",
			LocalVoice:      "nova",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Enabled:    true,
		},
		Bridge: BridgeConfig{
			Address: "127.0.0.1:8089",
		},
		Kafka: KafkaConfig{
			Topic: "voicebridge.sessions",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads and parses the configuration file. An empty path yields the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VOICEBRIDGE_API_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Recognition.OpenAIAPIKey = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Recognition.GoogleCredentials == "" {
		c.Recognition.GoogleCredentials = v
	}
	if v := os.Getenv("VOICEBRIDGE_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("VOICEBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("invalid backend timeout: %s", c.Backend.Timeout)
	}
	if _, err := lang.Parse(c.Call.Language); err != nil {
		return fmt.Errorf("call language: %w", err)
	}
	if c.Call.ClipPause < 0 || c.Call.FinalPause < 0 || c.Call.RelistenIn < 0 {
		return fmt.Errorf("pauses must not be negative")
	}
	switch c.Recognition.Engine {
	case "google", "whisper":
	default:
		return fmt.Errorf("invalid recognition engine: %s (must be google or whisper)", c.Recognition.Engine)
	}
	if c.Recognition.ConfidenceThreshold < 0 || c.Recognition.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence threshold: %.2f (must be between 0 and 1)", c.Recognition.ConfidenceThreshold)
	}
	if c.Recognition.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", c.Recognition.MaxRetries)
	}
	if c.TTS.RegionalTimeout <= 0 {
		return fmt.Errorf("invalid regional tts timeout: %s", c.TTS.RegionalTimeout)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.Audio.SampleRate)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	return nil
}
