package config

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("SALE_MAX_ATTEMPTS", "zero")
	t.Setenv("LOCK_TTL_SECONDS", "-4")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")

	cfg := Load()
	if cfg.SaleMaxAttempts != 3 {
		t.Fatalf("expected default 3 attempts, got %d", cfg.SaleMaxAttempts)
	}
	if cfg.LockTTL != 10*time.Second {
		t.Fatalf("expected default lock ttl, got %s", cfg.LockTTL)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("expected 30m token ttl, got %s", cfg.AccessTokenTTL)
	}
}

func TestBackendSelection(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{DatabaseURL: "postgres://x", SQLitePath: "a.db"}, "postgres"},
		{Config{SQLitePath: "a.db"}, "sqlite"},
		{Config{}, "memory"},
	}
	for _, tc := range cases {
		if got := tc.cfg.Backend(); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger := Config{LogLevel: "debug", LogFormat: "text"}.NewLogger(io.Discard)
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected text formatter, got %T", logger.Formatter)
	}

	logger = Config{LogLevel: "loud"}.NewLogger(io.Discard)
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", logger.Formatter)
	}
}
