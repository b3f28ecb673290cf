// Package config provides environment configuration for the chat client and dev server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Backend endpoints
	APIBaseURL string
	WSURL      string

	// Session credentials (supplied externally, see docs)
	AuthToken string
	Username  string

	// Client behavior
	MessagePageSize   int
	TypingQuietPeriod time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration

	// Dev server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	JWTSecret          string
	JWTExpiration      time.Duration
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	// Chatbot providers
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		APIBaseURL: getEnv("CHAT_API_BASE_URL", "http://localhost:8080"),
		WSURL:      getEnv("CHAT_WS_URL", "ws://localhost:8080/ws"),

		// Session
		AuthToken: getEnv("CHAT_AUTH_TOKEN", ""),
		Username:  getEnv("CHAT_USERNAME", ""),

		// Client behavior
		MessagePageSize:   getIntEnv("CHAT_MESSAGE_PAGE_SIZE", 20),
		TypingQuietPeriod: getDurationEnv("CHAT_TYPING_QUIET_PERIOD", 2*time.Second),
		ReconnectDelay:    getDurationEnv("CHAT_RECONNECT_DELAY", 5*time.Second),
		HeartbeatInterval: getDurationEnv("CHAT_HEARTBEAT_INTERVAL", 4*time.Second),

		// Dev server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		JWTSecret:          getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration:      getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
		RateLimitRequests:  getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Chatbot
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

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
