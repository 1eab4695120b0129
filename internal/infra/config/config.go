package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env string

	// Client side.
	APIBaseURL      string
	WSBaseURL       string
	AccessToken     string
	Username        string
	Password        string
	HTTPTimeout     time.Duration
	TypingIdle      time.Duration
	Reconnect       bool
	ReconnectMaxOff time.Duration

	// Stub server side.
	HTTPAddr     string
	JWTSecret    string
	TokenTTL     time.Duration
	SeedFixtures bool
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:          getEnv("APP_ENV", "dev"),
		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:8000"),
		WSBaseURL:    getEnv("WS_BASE_URL", "ws://localhost:8000"),
		AccessToken:  os.Getenv("ACCESS_TOKEN"),
		Username:     os.Getenv("CHAT_USERNAME"),
		Password:     os.Getenv("CHAT_PASSWORD"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8000"),
		JWTSecret:    getEnv("JWT_SECRET", "dev-secret-change-me"),
		SeedFixtures: true,
	}

	timeout, err := parseDurationEnv("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTPTimeout = timeout

	typingIdle, err := parseDurationEnv("TYPING_IDLE", 2500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg.TypingIdle = typingIdle

	reconnect, err := parseBoolEnv("WS_RECONNECT", false)
	if err != nil {
		return Config{}, err
	}
	cfg.Reconnect = reconnect

	maxOff, err := parseDurationEnv("WS_RECONNECT_MAX_BACKOFF", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectMaxOff = maxOff

	tokenTTL, err := parseDurationEnv("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL = tokenTTL

	seed, err := parseBoolEnv("SEED_FIXTURES", true)
	if err != nil {
		return Config{}, err
	}
	cfg.SeedFixtures = seed

	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL is required")
	}
	if cfg.WSBaseURL == "" {
		return Config{}, fmt.Errorf("WS_BASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
