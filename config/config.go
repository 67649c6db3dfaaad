// Package config loads the service configuration from environment
// variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the pipeline service configuration.
type Config struct {
	// HTTPAddr is the listen address for the API and websocket stream.
	HTTPAddr string

	// DatabaseURL is the Postgres connection string. Empty means the
	// file store runs alone, without a structured primary.
	DatabaseURL string

	// DataDir is the directory for the flat fallback store.
	DataDir string

	// RedisAddr enables cross-process status broadcast when set.
	RedisAddr string

	// ProcessorURL is the extraction service endpoint.
	ProcessorURL string

	// ProcessorTimeout bounds a single extraction call.
	ProcessorTimeout time.Duration

	// MaxAttempts is the processing attempts ceiling per job.
	MaxAttempts int

	// StaleAfter is the age past which unfinished jobs are not resumed.
	StaleAfter time.Duration

	// Retention is the age past which terminal jobs are swept.
	Retention time.Duration

	// SweepSchedule is the cron spec for retention sweeps.
	SweepSchedule string
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DataDir:          getEnv("DATA_DIR", ".data"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		ProcessorURL:     getEnv("PROCESSOR_URL", "http://localhost:9090/extract"),
		ProcessorTimeout: getEnvDuration("PROCESSOR_TIMEOUT", 60*time.Second),
		MaxAttempts:      getEnvInt("MAX_ATTEMPTS", 3),
		StaleAfter:       getEnvDuration("STALE_AFTER", 24*time.Hour),
		Retention:        getEnvDuration("RETENTION", 24*time.Hour),
		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "@every 1h"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
