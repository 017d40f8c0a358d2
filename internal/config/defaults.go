package config

import "time"

// DefaultBaseURL is the content store holding the prebuilt index and metadata.
const DefaultBaseURL = "https://drive.charpstar.net/indexing-test"

const writeTimeoutHeadroom = 30 * time.Second

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8001
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 20 << 20
	}
	if cfg.Edge.DefaultTopK == 0 {
		cfg.Edge.DefaultTopK = 10
	}
	if cfg.Resources.BaseURL == "" {
		cfg.Resources.BaseURL = DefaultBaseURL
	}
	if cfg.Resources.IndexFile == "" {
		cfg.Resources.IndexFile = "sample_index.faiss"
	}
	if cfg.Resources.MetadataFile == "" {
		cfg.Resources.MetadataFile = "sample_metadata.json"
	}
	if cfg.Resources.IndexTimeout == 0 {
		cfg.Resources.IndexTimeout = 300 * time.Second
	}
	if cfg.Resources.MetadataTimeout == 0 {
		cfg.Resources.MetadataTimeout = 60 * time.Second
	}
	if cfg.Resources.Backend == "" {
		cfg.Resources.Backend = "auto"
	}
	if cfg.Encoder.Backend == "" {
		cfg.Encoder.Backend = "onnx"
	}
	if cfg.Encoder.ModelName == "" {
		cfg.Encoder.ModelName = "openai/clip-vit-base-patch32"
	}
	if cfg.Encoder.VisionModelPath == "" {
		cfg.Encoder.VisionModelPath = "/usr/local/var/kagami/models/clip-vit-base-patch32/vision_model.onnx"
	}
	if cfg.Encoder.TextModelPath == "" {
		cfg.Encoder.TextModelPath = "/usr/local/var/kagami/models/clip-vit-base-patch32/text_model.onnx"
	}
	if cfg.Encoder.Dimensions == 0 {
		cfg.Encoder.Dimensions = 512
	}
	if cfg.Encoder.ImageSize == 0 {
		cfg.Encoder.ImageSize = 224
	}
	if cfg.Encoder.ContextLength == 0 {
		cfg.Encoder.ContextLength = 77
	}
	if cfg.Encoder.CacheSize == 0 {
		cfg.Encoder.CacheSize = 1000
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 20
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.FilePathPrefix == "" {
		cfg.Search.FilePathPrefix = "/sample-images"
	}
	if cfg.Search.MaxTextLength == 0 {
		cfg.Search.MaxTextLength = 1000
	}
	if cfg.Search.MaxImagePixels == 0 {
		cfg.Search.MaxImagePixels = 50_000_000
	}
	// The first search may wait for a lazy load of both resources.
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = cfg.Resources.IndexTimeout + cfg.Resources.MetadataTimeout + writeTimeoutHeadroom
	}
}
