// Package config provides configuration loading and structs for the kagami service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kerr "github.com/hyperjump/kagami/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Edge      EdgeConfig      `yaml:"edge"`
	Resources ResourcesConfig `yaml:"resources"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings shared by both bindings.
type ServerConfig struct {
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	CORSOrigins  []string        `yaml:"cors_origins"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig configures per-IP rate limiting. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// EdgeConfig holds settings of the minimal request-handler binding.
type EdgeConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
}

// ResourcesConfig locates the remote index blob and metadata document.
type ResourcesConfig struct {
	BaseURL         string        `yaml:"base_url"`
	IndexFile       string        `yaml:"index_file"`
	MetadataFile    string        `yaml:"metadata_file"`
	IndexTimeout    time.Duration `yaml:"index_timeout"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	RetryMax        int           `yaml:"retry_max"`
	ScratchDir      string        `yaml:"scratch_dir"`
	// Backend selects the index reader: "auto", "flat" or "faiss".
	Backend       string `yaml:"backend"`
	LoadOnStartup *bool  `yaml:"load_on_startup"`
	// Watch reloads on local changes; only honoured for file:// base URLs.
	Watch bool `yaml:"watch"`
}

// IndexURL returns the full URL of the serialized index.
func (r ResourcesConfig) IndexURL() string {
	return joinURL(r.BaseURL, r.IndexFile)
}

// MetadataURL returns the full URL of the metadata document.
func (r ResourcesConfig) MetadataURL() string {
	return joinURL(r.BaseURL, r.MetadataFile)
}

// LoadOnStartupOrDefault returns whether to load at startup; defaults to true when unset.
func (r ResourcesConfig) LoadOnStartupOrDefault() bool {
	if r.LoadOnStartup != nil {
		return *r.LoadOnStartup
	}
	return true
}

// EncoderConfig holds multimodal encoder settings.
type EncoderConfig struct {
	// Backend is "onnx" or "mock".
	Backend         string `yaml:"backend"`
	ModelName       string `yaml:"model_name"`
	VisionModelPath string `yaml:"vision_model_path"`
	TextModelPath   string `yaml:"text_model_path"`
	VocabPath       string `yaml:"vocab_path"`
	MergesPath      string `yaml:"merges_path"`
	// RuntimeLibraryPath points at libonnxruntime; empty uses the platform default.
	RuntimeLibraryPath string `yaml:"runtime_library_path"`
	Dimensions         int    `yaml:"dimensions"`
	ImageSize          int    `yaml:"image_size"`
	ContextLength      int    `yaml:"context_length"`
	CacheSize          int    `yaml:"cache_size"`
}

// SearchConfig holds query defaults and request input limits. MaxImagePixels
// bounds width*height of request images and is checked before decoding.
type SearchConfig struct {
	DefaultTopK    int    `yaml:"default_top_k"`
	MaxTopK        int    `yaml:"max_top_k"`
	FilePathPrefix string `yaml:"file_path_prefix"`
	MaxTextLength  int    `yaml:"max_text_length"`
	MaxImagePixels int    `yaml:"max_image_pixels"`
}

// Load reads the config file at path (optional when empty), applies defaults,
// the environment and validation. Relative paths are resolved against the file.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := ""
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	if configDir != "" {
		cfg.Resources.ScratchDir = expandPath(cfg.Resources.ScratchDir, configDir)
		cfg.Encoder.VisionModelPath = expandPath(cfg.Encoder.VisionModelPath, configDir)
		cfg.Encoder.TextModelPath = expandPath(cfg.Encoder.TextModelPath, configDir)
		cfg.Encoder.VocabPath = expandPath(cfg.Encoder.VocabPath, configDir)
		cfg.Encoder.MergesPath = expandPath(cfg.Encoder.MergesPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return kerr.Errorf(kerr.CodeConfigInvalid, "server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return kerr.Errorf(kerr.CodeConfigInvalid, "server.rate_limit.requests_per_second must not be negative (got %g)", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		return kerr.Errorf(kerr.CodeConfigInvalid, "server.rate_limit.burst must be positive when a rate is set (got %d)", c.Server.RateLimit.Burst)
	}
	switch c.Resources.Backend {
	case "auto", "flat", "faiss":
	default:
		return kerr.Errorf(kerr.CodeConfigInvalid, "unknown resources.backend %q (supported: auto, flat, faiss)", c.Resources.Backend)
	}
	switch c.Encoder.Backend {
	case "onnx", "mock":
	default:
		return kerr.Errorf(kerr.CodeConfigInvalid, "unknown encoder.backend %q (supported: onnx, mock)", c.Encoder.Backend)
	}
	if c.Resources.RetryMax < 0 {
		return kerr.Errorf(kerr.CodeConfigInvalid, "resources.retry_max must not be negative (got %d)", c.Resources.RetryMax)
	}
	if c.Search.MaxImagePixels < 0 {
		return kerr.Errorf(kerr.CodeConfigInvalid, "search.max_image_pixels must not be negative (got %d)", c.Search.MaxImagePixels)
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return kerr.Errorf(kerr.CodeConfigInvalid, "search.default_top_k (%d) exceeds search.max_top_k (%d)", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(name, "/")
}
