// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServiceConfig identifies the service and its listen ports.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	MetricsPort string
}

// STTConfig configures the streaming recognition backend. The configuration
// is fixed for the lifetime of one backend call; changing any field requires
// reopening the call.
type STTConfig struct {
	Provider       string // "google" or "mock"
	LanguageCode   string
	SampleRateHz   int
	Model          string
	UseEnhanced    bool
	InterimResults bool
}

// SessionConfig bounds the client-side transport session.
type SessionConfig struct {
	FrameSamples         int
	QueueCapacity        int
	ReconnectMaxAttempts int
	ReconnectBackoff     time.Duration
	ReconnectMaxBackoff  time.Duration
	DialTimeout          time.Duration
}

// RelayConfig bounds the server-side recognition relay.
type RelayConfig struct {
	MaxStreamDuration  time.Duration // proactive backend-call rotation interval
	ReopenMaxAttempts  int
	ReopenBackoff      time.Duration
	DrainTimeout       time.Duration
	EventQueueCapacity int
}

// KafkaConfig configures the downstream event publisher.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// LiveKitConfig holds credentials for room tokens and egress control.
type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

// ExamConfig configures exam generation from transcripts.
type ExamConfig struct {
	APIKey string
	Model  string
}

// ObservabilityConfig configures logging output.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// Config is the root configuration for the service.
type Config struct {
	Service        ServiceConfig
	STT            STTConfig
	Session        SessionConfig
	Relay          RelayConfig
	Kafka          KafkaConfig
	LiveKit        LiveKitConfig
	Exam           ExamConfig
	Observability  ObservabilityConfig
	TranscriptsDir string
}

// Load reads configuration from the environment, falling back to defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-conference-transcription")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "es-ES"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			Model:          envOrDefault("STT_MODEL", "latest_long"),
			UseEnhanced:    envOrDefaultBool("STT_USE_ENHANCED", true),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
		},
		Session: SessionConfig{
			FrameSamples:         envOrDefaultInt("SESSION_FRAME_SAMPLES", 4096),
			QueueCapacity:        envOrDefaultInt("SESSION_QUEUE_CAPACITY", 32),
			ReconnectMaxAttempts: envOrDefaultInt("SESSION_RECONNECT_MAX_ATTEMPTS", 3),
			ReconnectBackoff:     envOrDefaultDuration("SESSION_RECONNECT_BACKOFF", time.Second),
			ReconnectMaxBackoff:  envOrDefaultDuration("SESSION_RECONNECT_MAX_BACKOFF", 30*time.Second),
			DialTimeout:          envOrDefaultDuration("SESSION_DIAL_TIMEOUT", 10*time.Second),
		},
		Relay: RelayConfig{
			MaxStreamDuration:  envOrDefaultDuration("RELAY_MAX_STREAM_DURATION", 4*time.Minute),
			ReopenMaxAttempts:  envOrDefaultInt("RELAY_REOPEN_MAX_ATTEMPTS", 3),
			ReopenBackoff:      envOrDefaultDuration("RELAY_REOPEN_BACKOFF", 500*time.Millisecond),
			DrainTimeout:       envOrDefaultDuration("RELAY_DRAIN_TIMEOUT", time.Second),
			EventQueueCapacity: envOrDefaultInt("RELAY_EVENT_QUEUE_CAPACITY", 64),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "caption.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "caption.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		LiveKit: LiveKitConfig{
			URL:       envOrDefault("LIVEKIT_URL", ""),
			APIKey:    envOrDefault("LIVEKIT_API_KEY", ""),
			APISecret: envOrDefault("LIVEKIT_API_SECRET", ""),
		},
		Exam: ExamConfig{
			APIKey: envOrDefault("GEMINI_API_KEY", ""),
			Model:  envOrDefault("EXAM_MODEL", "gemini-2.0-flash-lite-001"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
		TranscriptsDir: envOrDefault("TRANSCRIPTS_DIR", "transcripts"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
