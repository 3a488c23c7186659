// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LiveKitConfig holds credentials for the room management service.
type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

// STTConfig holds the streaming recognizer configuration.
type STTConfig struct {
	Provider       string // speechmatics, google, mock
	Language       string
	SampleRate     int
	EnablePartials bool
	Diarization    bool
	MaxDelay       float64 // max acceptable recognition delay, seconds

	SpeechmaticsURL    string
	SpeechmaticsAPIKey string
}

// KafkaConfig holds the optional transcript export configuration.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// SessionConfig holds pipeline tuning knobs.
type SessionConfig struct {
	QueueCapacity int           // frames buffered per session
	GracePeriod   time.Duration // empty-room lifetime before teardown
	StopTimeout   time.Duration // graceful recognizer stop deadline
}

// Config is the complete service configuration.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	LiveKit LiveKitConfig
	STT     STTConfig
	Kafka   KafkaConfig
	Session SessionConfig
}

// Load reads configuration from the environment, loading a .env file
// first when one exists. LiveKit credentials are always required; the
// selected STT provider determines which vendor keys must be set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:    envOrDefault("HTTP_ADDR", ":8000"),
		MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),
		LiveKit: LiveKitConfig{
			URL:       os.Getenv("LIVEKIT_URL"),
			APIKey:    os.Getenv("LIVEKIT_API_KEY"),
			APISecret: os.Getenv("LIVEKIT_API_SECRET"),
		},
		STT: STTConfig{
			Provider:           envOrDefault("STT_PROVIDER", "speechmatics"),
			Language:           envOrDefault("STT_LANGUAGE", "en"),
			SampleRate:         envInt("STT_SAMPLE_RATE", 16000),
			EnablePartials:     envBool("STT_ENABLE_PARTIALS", true),
			Diarization:        envBool("STT_DIARIZATION", true),
			MaxDelay:           envFloat("STT_MAX_DELAY", 0.7),
			SpeechmaticsURL:    envOrDefault("SPEECHMATICS_URL", "wss://eu2.rt.speechmatics.com/v2"),
			SpeechmaticsAPIKey: os.Getenv("SPEECHMATICS_API_KEY"),
		},
		Kafka: KafkaConfig{
			Enabled:      envBool("KAFKA_ENABLED", false),
			Brokers:      envList("KAFKA_BROKERS"),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", "svc-dialogue-transcription"),
		},
		Session: SessionConfig{
			QueueCapacity: envInt("SESSION_QUEUE_CAPACITY", 512),
			GracePeriod:   envDuration("SESSION_GRACE_PERIOD", 30*time.Second),
			StopTimeout:   envDuration("SESSION_STOP_TIMEOUT", 5*time.Second),
		},
	}

	if cfg.LiveKit.URL == "" {
		return nil, fmt.Errorf("LIVEKIT_URL is required")
	}
	if cfg.LiveKit.APIKey == "" {
		return nil, fmt.Errorf("LIVEKIT_API_KEY is required")
	}
	if cfg.LiveKit.APISecret == "" {
		return nil, fmt.Errorf("LIVEKIT_API_SECRET is required")
	}

	switch cfg.STT.Provider {
	case "speechmatics":
		if cfg.STT.SpeechmaticsAPIKey == "" {
			return nil, fmt.Errorf("SPEECHMATICS_API_KEY is required for the speechmatics provider")
		}
	case "google", "mock":
	default:
		return nil, fmt.Errorf("invalid STT_PROVIDER: %s (must be speechmatics, google or mock)", cfg.STT.Provider)
	}

	if cfg.Session.QueueCapacity <= 0 {
		return nil, fmt.Errorf("SESSION_QUEUE_CAPACITY must be positive, got %d", cfg.Session.QueueCapacity)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
