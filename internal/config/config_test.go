package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != "3000" {
		t.Errorf("HTTPPort = %q, want 3000", cfg.HTTPPort)
	}
	if cfg.ServerBaseURL != "http://localhost:8001" {
		t.Errorf("ServerBaseURL = %q", cfg.ServerBaseURL)
	}
	if cfg.SessionCookie != "dw_token" {
		t.Errorf("SessionCookie = %q", cfg.SessionCookie)
	}
	if cfg.StreamTimeout != 30*time.Second {
		t.Errorf("StreamTimeout = %v", cfg.StreamTimeout)
	}
	if cfg.StreamRetries != 2 {
		t.Errorf("StreamRetries = %d", cfg.StreamRetries)
	}
	if cfg.StreamRetryDelay != time.Second {
		t.Errorf("StreamRetryDelay = %v", cfg.StreamRetryDelay)
	}
	if cfg.RateLimitCapacity != 30 {
		t.Errorf("RateLimitCapacity = %d", cfg.RateLimitCapacity)
	}
	if cfg.AuditDSN != "" {
		t.Errorf("AuditDSN = %q, want empty", cfg.AuditDSN)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_BASE_URL", "http://backend:9000")
	t.Setenv("STREAM_RETRIES", "5")
	t.Setenv("STREAM_TIMEOUT", "10s")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "2.5")
	t.Setenv("STREAM_RETRY_DELAY", "garbage")

	cfg := Load()
	if cfg.ServerBaseURL != "http://backend:9000" {
		t.Errorf("ServerBaseURL = %q", cfg.ServerBaseURL)
	}
	if cfg.StreamRetries != 5 {
		t.Errorf("StreamRetries = %d", cfg.StreamRetries)
	}
	if cfg.StreamTimeout != 10*time.Second {
		t.Errorf("StreamTimeout = %v", cfg.StreamTimeout)
	}
	if cfg.RateLimitRefill != 2.5 {
		t.Errorf("RateLimitRefill = %v", cfg.RateLimitRefill)
	}
	// Unparseable values fall back to the default.
	if cfg.StreamRetryDelay != time.Second {
		t.Errorf("StreamRetryDelay = %v", cfg.StreamRetryDelay)
	}
}
