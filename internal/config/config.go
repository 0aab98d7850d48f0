package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the proxy service.
// It is built once at startup and passed by value; nothing mutates it after
// Load returns.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	// ServerBaseURL is the upstream analysis backend.
	ServerBaseURL string
	// FrontendAPIKey is the static service credential attached to every
	// proxied call when set. Empty means the header is omitted.
	FrontendAPIKey string
	// SessionCookie names the HttpOnly cookie carrying the per-user bearer token.
	SessionCookie string

	// Stream reader defaults (client side).
	StreamTimeout    time.Duration
	StreamRetries    int
	StreamRetryDelay time.Duration

	// Rate limiting for job creation and chat streams.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	// AuditDSN enables the Postgres control-action audit trail when set.
	AuditDSN string
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "3000"),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		ServerBaseURL:     getEnv("SERVER_BASE_URL", "http://localhost:8001"),
		FrontendAPIKey:    getEnv("DEEPWIKI_FRONTEND_API_KEY", ""),
		SessionCookie:     getEnv("SESSION_COOKIE", "dw_token"),
		StreamTimeout:     getEnvDuration("STREAM_TIMEOUT", 30*time.Second),
		StreamRetries:     getEnvInt("STREAM_RETRIES", 2),
		StreamRetryDelay:  getEnvDuration("STREAM_RETRY_DELAY", time.Second),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 30),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 5),
		AuditDSN:          getEnv("AUDIT_DSN", ""),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
