// Package config loads server settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the server settings.
type Config struct {
	ListenAddr         string   `yaml:"listen_addr"`
	LogLevel           string   `yaml:"log_level"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	NATSURL            string   `yaml:"nats_url"`
	EventSubjectPrefix string   `yaml:"event_subject_prefix"`
	ShutdownSeconds    int      `yaml:"shutdown_seconds"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ListenAddr:         ":8080",
		LogLevel:           "info",
		AllowedOrigins:     []string{"*"},
		EventSubjectPrefix: "timers",
		ShutdownSeconds:    5,
	}
}

// Load reads the YAML file at path (skipped when path is empty) and then
// applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.EventSubjectPrefix = getEnv("EVENT_SUBJECT_PREFIX", cfg.EventSubjectPrefix)
	cfg.ShutdownSeconds = getEnvAsInt("SHUTDOWN_SECONDS", cfg.ShutdownSeconds)

	if port := getEnv("PORT", ""); port != "" {
		cfg.ListenAddr = ":" + port
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
