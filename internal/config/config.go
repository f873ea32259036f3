// Package config provides configuration for the backend.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the backend configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Session vault. MasterSecret derives the encryption key; when empty a
	// random process-lifetime key is used and sessions do not survive a
	// restart (degraded mode, logged loudly at startup).
	MasterSecret  string
	SessionTTL    time.Duration
	MaxSessions   int
	SweepInterval time.Duration

	// DatabaseURL selects the persistent SQLite session store when set;
	// empty means in-memory.
	DatabaseURL string

	// Upstream prediction provider
	UpstreamBaseURL    string
	UpstreamCreatePath string
	UpstreamTimeout    time.Duration
	CancelTimeout      time.Duration

	// Polling
	PollInterval    time.Duration
	PollMaxAttempts int
	RetryMax        int
	RetryBaseDelay  time.Duration

	// Rate limits per class
	AuthLimitMax        int
	AuthLimitWindow     time.Duration
	SessionLimitMax     int
	SessionLimitWindow  time.Duration
	UpstreamLimitMax    int
	UpstreamLimitWindow time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort: getEnvInt("HTTP_PORT", 8080),

		MasterSecret:  getEnv("MASTER_SECRET", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		MaxSessions:   getEnvInt("MAX_SESSIONS", 1000),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Hour),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		UpstreamBaseURL:    getEnv("UPSTREAM_BASE_URL", "https://api.replicate.com/v1"),
		UpstreamCreatePath: getEnv("UPSTREAM_CREATE_PATH", ""),
		UpstreamTimeout:    getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		CancelTimeout:      getEnvDuration("CANCEL_TIMEOUT", 10*time.Second),

		PollInterval:    getEnvDuration("POLL_INTERVAL", 2500*time.Millisecond),
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 120),
		RetryMax:        getEnvInt("RETRY_MAX", 3),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", time.Second),

		AuthLimitMax:        getEnvInt("AUTH_LIMIT_MAX", 50),
		AuthLimitWindow:     getEnvDuration("AUTH_LIMIT_WINDOW", 15*time.Minute),
		SessionLimitMax:     getEnvInt("SESSION_LIMIT_MAX", 500),
		SessionLimitWindow:  getEnvDuration("SESSION_LIMIT_WINDOW", time.Minute),
		UpstreamLimitMax:    getEnvInt("UPSTREAM_LIMIT_MAX", 100),
		UpstreamLimitWindow: getEnvDuration("UPSTREAM_LIMIT_WINDOW", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
