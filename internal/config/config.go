package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL    string
	StreamBaseURL string
	APIToken      string

	LogLevel    string
	MetricsPort string

	UploadTimeout        time.Duration
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	CompletionFallback   time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	CloseGrace           time.Duration
	CancelTimeout        time.Duration
}

func Load() Config {
	return Config{
		APIBaseURL:    mustEnv("EXTRACTION_API_URL", "http://localhost:8080"),
		StreamBaseURL: mustEnv("EXTRACTION_STREAM_URL", "ws://localhost:8080"),
		APIToken:      mustEnv("EXTRACTION_API_TOKEN", ""),

		LogLevel:    mustEnv("LOG_LEVEL", "info"),
		MetricsPort: mustEnv("METRICS_PORT", ""),

		UploadTimeout:        mustEnvDuration("UPLOAD_TIMEOUT", 10*time.Minute),
		ConnectTimeout:       mustEnvDuration("STREAM_CONNECT_TIMEOUT", 60*time.Second),
		HeartbeatInterval:    mustEnvDuration("STREAM_HEARTBEAT_INTERVAL", 30*time.Second),
		CompletionFallback:   mustEnvDuration("COMPLETION_FALLBACK_TIMEOUT", 30*time.Second),
		ReconnectBaseDelay:   mustEnvDuration("STREAM_RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    mustEnvDuration("STREAM_RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectMaxAttempts: mustEnvInt("STREAM_RECONNECT_MAX_ATTEMPTS", 5),
		CloseGrace:           mustEnvDuration("STREAM_CLOSE_GRACE", time.Second),
		CancelTimeout:        mustEnvDuration("CANCEL_TIMEOUT", 5*time.Second),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
