//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
	"image"
)

var errNoCGO = errors.New("ONNX encoder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// CLIPEncoder stub type when built without CGO (see onnx.go for real implementation).
type CLIPEncoder struct{}

// NewCLIPEncoder returns an error when built without CGO (ONNX not available).
func NewCLIPEncoder(_ CLIPOptions) (*CLIPEncoder, error) {
	return nil, errNoCGO
}

// EncodeImage is not implemented without CGO.
func (e *CLIPEncoder) EncodeImage(_ context.Context, _ image.Image) ([]float32, error) {
	return nil, errNoCGO
}

// EncodeText is not implemented without CGO.
func (e *CLIPEncoder) EncodeText(_ context.Context, _ string) ([]float32, error) {
	return nil, errNoCGO
}

// Dimensions returns 0 without CGO.
func (e *CLIPEncoder) Dimensions() int { return 0 }

// Info returns an empty description without CGO.
func (e *CLIPEncoder) Info() ModelInfo { return ModelInfo{Backend: "onnx"} }

// Close is a no-op without CGO.
func (e *CLIPEncoder) Close() error { return nil }
