package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the stylization service.
type Config struct {
	BindAddr         string
	AppEnv           string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// DataRoot is where per-request working directories live.
	DataRoot            string
	MaxAssetsPerRequest int
	EventQueueSize      int
	ConversationTTL     time.Duration

	// EngineMode selects the stylization backend: "command" runs an
	// external binary, "http" calls a remote endpoint, "mock" echoes
	// inputs and exists for local development and tests.
	EngineMode    string
	EngineCommand string
	EngineHTTPURL string
	EngineTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		AppEnv:              envOrDefault("APP_ENV", "development"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "atelier"),
		AllowAnyOrigin:      false,
		DataRoot:            envOrDefault("DATA_ROOT", "data"),
		MaxAssetsPerRequest: 10,
		EventQueueSize:      64,
		EngineMode:          strings.ToLower(envOrDefault("ENGINE_MODE", "mock")),
		EngineCommand:       stringsTrimSpace("ENGINE_COMMAND"),
		EngineHTTPURL:       stringsTrimSpace("ENGINE_HTTP_URL"),
		EngineTimeout:       10 * time.Minute,
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:     15 * time.Second,
		ConversationTTL:     30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineTimeout, err = durationFromEnv("ENGINE_TIMEOUT", cfg.EngineTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAssetsPerRequest, err = intFromEnv("MAX_ASSETS_PER_REQUEST", cfg.MaxAssetsPerRequest)
	if err != nil {
		return Config{}, err
	}
	cfg.EventQueueSize, err = intFromEnv("APP_EVENT_QUEUE_SIZE", cfg.EventQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationTTL, err = durationFromEnv("APP_CONVERSATION_TTL", cfg.ConversationTTL)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxAssetsPerRequest <= 0 {
		return Config{}, fmt.Errorf("MAX_ASSETS_PER_REQUEST must be positive")
	}
	if cfg.EventQueueSize <= 0 {
		return Config{}, fmt.Errorf("APP_EVENT_QUEUE_SIZE must be positive")
	}
	if cfg.EngineTimeout <= 0 {
		return Config{}, fmt.Errorf("ENGINE_TIMEOUT must be positive")
	}
	switch cfg.EngineMode {
	case "mock":
	case "command":
		if cfg.EngineCommand == "" {
			return Config{}, fmt.Errorf("ENGINE_COMMAND is required when ENGINE_MODE=command")
		}
	case "http":
		if cfg.EngineHTTPURL == "" {
			return Config{}, fmt.Errorf("ENGINE_HTTP_URL is required when ENGINE_MODE=http")
		}
	default:
		return Config{}, fmt.Errorf("ENGINE_MODE must be one of command, http, mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
