package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	TrackingParamsFile string // optional yaml file of extra tracking-parameter patterns

	HeartbeatInterval time.Duration // expected client heartbeat cadence; 2 missed intervals => eviction
	SessionBuffer     int           // per-session outbound event buffer before backpressure disconnect
	RetentionWindow   time.Duration // how long tombstones and journal entries are kept for catch-up
	SweepInterval     time.Duration // cadence of the retention sweep

	AllowedOrigins []string // origins accepted for CORS and websocket upgrades (empty = any)

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
}

func Load() *Config {
	// Best effort: a .env file is a dev convenience, not a requirement.
	_ = godotenv.Load()

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("SYNCMARKS_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("SYNCMARKS_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("SYNCMARKS_LOG_LEVEL", "info"),
		PrettyLog: mustBool("SYNCMARKS_PRETTY_LOG", true),

		// Normalizer
		TrackingParamsFile: getenv("SYNCMARKS_TRACKING_PARAMS_FILE", ""),

		// Sync engine policy
		HeartbeatInterval: mustDuration("SYNCMARKS_HEARTBEAT_INTERVAL", 30*time.Second),
		SessionBuffer:     getenvInt("SYNCMARKS_SESSION_BUFFER", 64),
		RetentionWindow:   mustDuration("SYNCMARKS_RETENTION_WINDOW", 720*time.Hour),
		SweepInterval:     mustDuration("SYNCMARKS_SWEEP_INTERVAL", time.Hour),

		// Access
		AllowedOrigins: splitAndTrim(getenv("SYNCMARKS_ALLOWED_ORIGINS", "")),

		// Redis settings
		RedisAddr:             requireEnv("SYNCMARKS_REDIS_ADDR"),
		RedisUser:             getenv("SYNCMARKS_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("SYNCMARKS_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("SYNCMARKS_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("SYNCMARKS_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
	}

	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: SYNCMARKS_REDIS_PASSWORD is required when SYNCMARKS_REDIS_PASSWORD_REQUIRED=true")
	}
	if cfg.SessionBuffer < 1 {
		panic(fmt.Sprintf("❌ FATAL: SYNCMARKS_SESSION_BUFFER must be >= 1, got %d", cfg.SessionBuffer))
	}
	if cfg.HeartbeatInterval <= 0 {
		panic("❌ FATAL: SYNCMARKS_HEARTBEAT_INTERVAL must be > 0")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
