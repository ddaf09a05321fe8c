// Package config centralizes every environment-driven knob of the
// detection core behind a single typed struct, loaded once at process
// start the way cmd/server wires everything else.
package config

import (
	"os"
	"strconv"
	"time"
)

// DetectionConfig is every recognized option from the external interface
// table, with the stated defaults baked in.
type DetectionConfig struct {
	MinConfidence                float64
	AcoustIDConfidenceThreshold  float64
	AuddConfidenceThreshold      float64
	SampleRate                   int
	MinAudioLength               time.Duration
	MaxAudioLength               time.Duration
	HealthcheckInterval          time.Duration
	MaxRetries                   int
	RequestTimeout               time.Duration
	SameTrackSimilarity          float64
	SilenceDuration              time.Duration
	AcoustIDAPIKey               string
	AuddAPIKey                   string
	ShutdownGrace                time.Duration
	ProviderCooldown             time.Duration

	DatabaseURL string
	RedisAddr   string

	S3Bucket string
	S3Region string

	AdminListenAddr string

	LogLevel string
	LogFile  string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelSamplingRate float64
	ServiceName      string
	Environment      string
}

// Load reads the process environment (optionally populated from a local
// .env file by the caller via godotenv.Load) and returns a fully
// defaulted configuration. It never fails: missing values fall back to
// the documented defaults, via a getEnvOrDefault idiom.
func Load() *DetectionConfig {
	return &DetectionConfig{
		MinConfidence:               getEnvFloat("MIN_CONFIDENCE", 0.8),
		AcoustIDConfidenceThreshold: getEnvFloat("ACOUSTID_CONFIDENCE_THRESHOLD", 0.7),
		AuddConfidenceThreshold:     getEnvFloat("AUDD_CONFIDENCE_THRESHOLD", 0.6),
		SampleRate:                  getEnvInt("SAMPLE_RATE", 44100),
		MinAudioLength:              time.Duration(getEnvInt("MIN_AUDIO_LENGTH", 10)) * time.Second,
		MaxAudioLength:              time.Duration(getEnvInt("MAX_AUDIO_LENGTH", 30)) * time.Second,
		HealthcheckInterval:         time.Duration(getEnvInt("HEALTHCHECK_INTERVAL", 30)) * time.Second,
		MaxRetries:                  getEnvInt("MAX_RETRIES", 3),
		RequestTimeout:              time.Duration(getEnvInt("REQUEST_TIMEOUT", 10)) * time.Second,
		SameTrackSimilarity:         getEnvFloat("SAME_TRACK_SIMILARITY", 0.85),
		SilenceDuration:             time.Duration(getEnvFloat("SILENCE_DURATION", 2.0) * float64(time.Second)),
		AcoustIDAPIKey:              os.Getenv("ACOUSTID_API_KEY"),
		AuddAPIKey:                  os.Getenv("AUDD_API_KEY"),
		ShutdownGrace:               time.Duration(getEnvInt("SHUTDOWN_GRACE", 30)) * time.Second,
		ProviderCooldown:            time.Duration(getEnvInt("PROVIDER_COOLDOWN", 300)) * time.Second,

		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost:5432/sodav_monitor?sslmode=disable"),
		RedisAddr:   getEnvOrDefault("REDIS_ADDR", ""),

		S3Bucket: getEnvOrDefault("SNAPSHOT_S3_BUCKET", ""),
		S3Region: getEnvOrDefault("SNAPSHOT_S3_REGION", "us-east-1"),

		AdminListenAddr: getEnvOrDefault("ADMIN_LISTEN_ADDR", ":9090"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  getEnvOrDefault("LOG_FILE", "monitor.log"),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
		ServiceName:      getEnvOrDefault("OTEL_SERVICE_NAME", "sodav-monitor-core"),
		Environment:      getEnvOrDefault("ENVIRONMENT", "development"),
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
