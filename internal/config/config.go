// Package config provides environment configuration for the relay and the chat client.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JetStream settings
	StreamMaxAge time.Duration
	StreamMemory bool

	// CORS
	CORSOrigins []string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Presence
	PresenceTTL time.Duration

	// Client settings
	APIURL                  string
	APIToken                string
	MatchWindow             time.Duration
	PresenceMinInterval     time.Duration
	PresenceRefreshInterval time.Duration
	HeartbeatInterval       time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from a .env file, if present, and environment variables.
func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JetStream
		StreamMaxAge: getDurationEnv("STREAM_MAX_AGE", 365*24*time.Hour),
		StreamMemory: getBoolEnv("STREAM_MEMORY", false),

		// CORS
		CORSOrigins: getListEnv("CORS_ORIGINS", []string{"https://*", "http://*"}),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 24*time.Hour),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Presence
		PresenceTTL: getDurationEnv("PRESENCE_TTL", 90*time.Second),

		// Client
		APIURL:                  getEnv("CHATSYNC_API_URL", "http://localhost:8080"),
		APIToken:                getEnv("CHATSYNC_TOKEN", ""),
		MatchWindow:             getDurationEnv("CHATSYNC_MATCH_WINDOW", 5*time.Second),
		PresenceMinInterval:     getDurationEnv("CHATSYNC_PRESENCE_MIN_INTERVAL", 2*time.Second),
		PresenceRefreshInterval: getDurationEnv("CHATSYNC_PRESENCE_REFRESH_INTERVAL", 30*time.Second),
		HeartbeatInterval:       getDurationEnv("CHATSYNC_HEARTBEAT_INTERVAL", 30*time.Second),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
