package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the chat memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogPretty bool

	DatabaseURL string

	MaxContextMessages   int
	ContextTTLHours      int
	SweepIntervalSeconds int

	// AllowedUsers is empty when every user is permitted.
	AllowedUsers []int64

	CompletionMode    string
	OpenAIAPIKey      string
	OpenAIAPIBase     string
	OpenAIModel       string
	OpenAITemperature float64
	ProxyURL          string
	SystemPrompt      string
}

// ContextTTL is the maximum age a turn may reach before it is swept.
func (c Config) ContextTTL() time.Duration {
	return time.Duration(c.ContextTTLHours) * time.Hour
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

const defaultSystemPrompt = "You are a friendly and helpful assistant."

// Load reads environment variables, after merging an optional dotenv file,
// and applies safe defaults. Variables already set in the environment win.
func Load() (Config, error) {
	envFile := envOrDefault("CHATMEMORY_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "chatmemory"),
		AllowAnyOrigin:       false,
		LogLevel:             envOrDefault("LOG_LEVEL", "INFO"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		MaxContextMessages:   20,
		ContextTTLHours:      24,
		SweepIntervalSeconds: 3600,
		CompletionMode:       strings.ToLower(envOrDefault("COMPLETION_MODE", "auto")),
		OpenAIAPIKey:         stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIAPIBase:        envOrDefault("OPENAI_API_BASE", "https://api.openai.com/v1"),
		OpenAIModel:          envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAITemperature:    0.7,
		ProxyURL:             stringsTrimSpace("PROXY_URL"),
		SystemPrompt:         envOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),
		ShutdownTimeout:      15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogPretty, err = boolFromEnv("LOG_PRETTY", cfg.LogPretty)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxContextMessages, err = intFromEnv("MAX_CONTEXT_MESSAGES", cfg.MaxContextMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextTTLHours, err = intFromEnv("CONTEXT_TTL_HOURS", cfg.ContextTTLHours)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepIntervalSeconds, err = intFromEnv("SWEEP_INTERVAL_SECONDS", cfg.SweepIntervalSeconds)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAITemperature, err = floatFromEnv("OPENAI_TEMPERATURE", cfg.OpenAITemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowedUsers, err = int64ListFromEnv("ALLOWED_USERS")
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxContextMessages <= 0 {
		return Config{}, fmt.Errorf("MAX_CONTEXT_MESSAGES must be positive")
	}
	if cfg.ContextTTLHours <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_TTL_HOURS must be positive")
	}
	if cfg.SweepIntervalSeconds <= 0 {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if cfg.OpenAITemperature < 0 || cfg.OpenAITemperature > 2 {
		return Config{}, fmt.Errorf("OPENAI_TEMPERATURE must be within [0, 2]")
	}
	switch cfg.CompletionMode {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("invalid COMPLETION_MODE: %q (expected auto|openai|mock)", cfg.CompletionMode)
	}
	if cfg.CompletionMode == "openai" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("COMPLETION_MODE=openai but OPENAI_API_KEY is not set")
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

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
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

// int64ListFromEnv parses a comma separated list, skipping blank entries.
func int64ListFromEnv(key string) ([]int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s parse error: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}
