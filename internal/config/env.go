package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvBaseURL        = "CDN_BASE_URL"
	EnvHost           = "HOST"
	EnvPort           = "PORT"
	EnvDebug          = "KAGAMI_DEBUG"
	EnvEncoderBackend = "KAGAMI_ENCODER_BACKEND"
)

// LoadDotEnv loads a .env file from the working directory if it exists.
// Variables already present in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. Invalid numbers are ignored.
func ApplyEnv(cfg *Config) {
	if v := getEnv(EnvBaseURL, ""); v != "" {
		cfg.Resources.BaseURL = v
	}
	if v := getEnv(EnvHost, ""); v != "" {
		cfg.Server.Host = v
	}
	cfg.Server.Port = getEnvAsInt(EnvPort, cfg.Server.Port)
	if v := getEnv(EnvDebug, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := getEnv(EnvEncoderBackend, ""); v != "" {
		cfg.Encoder.Backend = strings.ToLower(v)
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
