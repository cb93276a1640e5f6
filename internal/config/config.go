package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries all server settings, sourced from environment variables
// with development defaults.
type Config struct {
	Port string

	MongoURI      string
	MongoDatabase string

	GeminiAPIKey     string
	ElevenLabsAPIKey string

	// Chunk aggregation
	DebounceWindow  time.Duration
	SegmentMaxBytes int
	SegmentMinBytes int

	// Connection registry
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
	MetricsInterval time.Duration

	// Pipeline
	ContextTurns    int
	MaxInFlight     int
	EnableSynthesis bool
	StreamTokens    bool

	// Audio defaults for transcription
	AudioSampleRate int
	AudioEncoding   string
	AudioLanguage   string
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port: getString("PORT", "8080"),

		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: getString("MONGODB_DATABASE", "sentire"),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVEN_LABS_API_KEY"),

		DebounceWindow:  getDuration("DEBOUNCE_WINDOW_MS", 300*time.Millisecond),
		SegmentMaxBytes: getInt("SEGMENT_MAX_BYTES", 64*1024),
		SegmentMinBytes: getInt("SEGMENT_MIN_BYTES", 50),

		IdleTimeout:     getDuration("IDLE_TIMEOUT_MS", 5*time.Minute),
		SweepInterval:   getDuration("SWEEP_INTERVAL_MS", 30*time.Second),
		MetricsInterval: getDuration("METRICS_INTERVAL_MS", time.Minute),

		ContextTurns:    getInt("CONTEXT_TURNS", 10),
		MaxInFlight:     getInt("MAX_IN_FLIGHT", 2),
		EnableSynthesis: getBool("ENABLE_SYNTHESIS", false),
		StreamTokens:    getBool("STREAM_TOKENS", false),

		AudioSampleRate: getInt("AUDIO_SAMPLE_RATE", 16000),
		AudioEncoding:   getString("AUDIO_ENCODING", "LINEAR16"),
		AudioLanguage:   getString("AUDIO_LANGUAGE", "en-US"),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getDuration reads a millisecond-valued environment variable.
func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
