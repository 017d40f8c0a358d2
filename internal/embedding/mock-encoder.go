package embedding

import (
	"context"
	"image"
	"math"
)

// mockImageSize keeps mock image encoding cheap while still content-dependent.
const mockImageSize = 32

// MockEncoder is a deterministic encoder for tests and offline deployments.
// Text vectors are derived from the text hash; image vectors fold the
// preprocessed pixels into the output dimensions, so similar images get
// similar vectors.
type MockEncoder struct {
	dimensions int
}

// NewMockEncoder returns an encoder that produces deterministic embeddings of the given dimensions.
func NewMockEncoder(dimensions int) *MockEncoder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEncoder{dimensions: dimensions}
}

// EncodeImage returns a deterministic embedding based on image content.
func (e *MockEncoder) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pixels := PreprocessImage(img, mockImageSize)
	emb := make([]float32, e.dimensions)
	for i, v := range pixels {
		emb[i%e.dimensions] += v
	}
	for i := range emb {
		emb[i] += float32(math.Sin(float64(i+1))) * 0.01
	}
	return emb, nil
}

// EncodeText returns a deterministic embedding based on the text hash.
func (e *MockEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEncoder) Dimensions() int {
	return e.dimensions
}

// Info describes the mock model.
func (e *MockEncoder) Info() ModelInfo {
	return ModelInfo{
		Name:       "mock",
		Backend:    "mock",
		Device:     "cpu",
		Dimensions: e.dimensions,
		ImageSize:  mockImageSize,
	}
}

// Close is a no-op for MockEncoder.
func (e *MockEncoder) Close() error {
	return nil
}
