// Package embedding turns images and text into vectors in a shared
// image-text embedding space (CLIP).
package embedding

import (
	"context"
	"fmt"
	"image"

	"github.com/hyperjump/kagami/internal/config"
)

// Encoder produces raw (not necessarily normalized) embeddings.
type Encoder interface {
	EncodeImage(ctx context.Context, img image.Image) ([]float32, error)
	EncodeText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Info() ModelInfo
	Close() error
}

// ModelInfo describes a loaded encoder.
type ModelInfo struct {
	Name          string
	Backend       string
	Device        string
	Dimensions    int
	ImageSize     int
	ContextLength int
}

// NewEncoder builds the encoder selected by cfg.Backend.
func NewEncoder(cfg config.EncoderConfig) (Encoder, error) {
	switch cfg.Backend {
	case "mock":
		return NewMockEncoder(cfg.Dimensions), nil
	case "onnx", "":
		enc, err := NewCLIPEncoder(CLIPOptions{
			ModelName:          cfg.ModelName,
			VisionModelPath:    cfg.VisionModelPath,
			TextModelPath:      cfg.TextModelPath,
			VocabPath:          cfg.VocabPath,
			MergesPath:         cfg.MergesPath,
			RuntimeLibraryPath: cfg.RuntimeLibraryPath,
			Dimensions:         cfg.Dimensions,
			ImageSize:          cfg.ImageSize,
			ContextLength:      cfg.ContextLength,
		})
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown encoder backend: %s (supported: onnx, mock)", cfg.Backend)
	}
}

// CLIPOptions configures the ONNX CLIP encoder.
type CLIPOptions struct {
	ModelName          string
	VisionModelPath    string
	TextModelPath      string
	VocabPath          string
	MergesPath         string
	RuntimeLibraryPath string
	Dimensions         int
	ImageSize          int
	ContextLength      int
}

func (o *CLIPOptions) applyDefaults() {
	if o.ModelName == "" {
		o.ModelName = "openai/clip-vit-base-patch32"
	}
	if o.Dimensions <= 0 {
		o.Dimensions = 512
	}
	if o.ImageSize <= 0 {
		o.ImageSize = 224
	}
	if o.ContextLength <= 0 {
		o.ContextLength = 77
	}
}
