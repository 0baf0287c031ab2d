package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port                string
	AllowedOrigin       string
	DatabaseURL         string
	SQLitePath          string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	AuthSecret          string
	AccessTokenTTL      time.Duration
	SaleMaxAttempts     int
	LockTTL             time.Duration
	PriceCacheTTL       time.Duration
	OutboxInterval      time.Duration
	ExpirySweepInterval time.Duration
	LogLevel            string
	LogFormat           string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set take precedence.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                getEnv("PORT", "8080"),
		AllowedOrigin:       getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:          strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getInt("REDIS_DB", 0, 0),
		AuthSecret:          strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTL:      time.Duration(getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1)) * time.Minute,
		SaleMaxAttempts:     getInt("SALE_MAX_ATTEMPTS", 3, 1),
		LockTTL:             time.Duration(getInt("LOCK_TTL_SECONDS", 10, 1)) * time.Second,
		PriceCacheTTL:       time.Duration(getInt("PRICE_CACHE_TTL_SECONDS", 300, 1)) * time.Second,
		OutboxInterval:      time.Duration(getInt("OUTBOX_INTERVAL_SECONDS", 5, 1)) * time.Second,
		ExpirySweepInterval: time.Duration(getInt("EXPIRY_SWEEP_INTERVAL_MINUTES", 60, 1)) * time.Minute,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Backend names the store the server will open.
func (c Config) Backend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// NewLogger builds the process logger. An unknown level falls back to info.
func (c Config) NewLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

// getInt returns fallback when key is unset, malformed or below min.
func getInt(key string, fallback int, min int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < min {
		return fallback
	}
	return n
}
