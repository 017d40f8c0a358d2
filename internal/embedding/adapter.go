package embedding

import (
	"context"
	"image"
	"slices"

	kerr "github.com/hyperjump/kagami/pkg/errors"
	"github.com/hyperjump/kagami/pkg/utils"
	"go.uber.org/zap"
)

// Adapter validates and L2-normalizes encoder output. A nil encoder means
// the model failed to load; every call then reports it as unavailable.
type Adapter struct {
	encoder    Encoder
	dimensions int
	cache      *EmbeddingCache
	logger     *zap.Logger
}

// NewAdapter wraps enc (may be nil). dimensions is the expected output size.
func NewAdapter(enc Encoder, dimensions, cacheSize int, logger *zap.Logger) *Adapter {
	return &Adapter{
		encoder:    enc,
		dimensions: dimensions,
		cache:      NewEmbeddingCache(cacheSize),
		logger:     utils.OrNop(logger),
	}
}

// Loaded reports whether an encoder is available.
func (a *Adapter) Loaded() bool {
	return a != nil && a.encoder != nil
}

// Dimensions returns the expected embedding dimension.
func (a *Adapter) Dimensions() int {
	return a.dimensions
}

// Info returns the encoder description, or false when unloaded.
func (a *Adapter) Info() (ModelInfo, bool) {
	if !a.Loaded() {
		return ModelInfo{}, false
	}
	return a.encoder.Info(), true
}

// EmbedImage encodes img and returns the unit vector and its norm.
func (a *Adapter) EmbedImage(ctx context.Context, img image.Image) ([]float32, float64, error) {
	if !a.Loaded() {
		return nil, 0, kerr.New(kerr.CodeEncoderUnavailable, "Model not loaded")
	}
	vec, err := a.encoder.EncodeImage(ctx, img)
	if err != nil {
		return nil, 0, kerr.Wrap(err, kerr.CodeEncoderFailure, "image encoding failed")
	}
	return a.finish(vec)
}

// EmbedText encodes text and returns the unit vector and its norm. Results are cached by text.
func (a *Adapter) EmbedText(ctx context.Context, text string) ([]float32, float64, error) {
	if !a.Loaded() {
		return nil, 0, kerr.New(kerr.CodeEncoderUnavailable, "Model not loaded")
	}
	if cached, ok := a.cache.Get(text); ok {
		return cached, utils.L2Norm(cached), nil
	}
	vec, err := a.encoder.EncodeText(ctx, text)
	if err != nil {
		return nil, 0, kerr.Wrap(err, kerr.CodeEncoderFailure, "text encoding failed")
	}
	out, norm, err := a.finish(vec)
	if err != nil {
		return nil, 0, err
	}
	a.cache.Set(text, out)
	return out, norm, nil
}

// finish normalizes a copy of vec and rejects wrong sizes and non-finite values.
func (a *Adapter) finish(vec []float32) ([]float32, float64, error) {
	if len(vec) != a.dimensions {
		a.logger.Error("encoder returned wrong dimension",
			zap.Int("got", len(vec)), zap.Int("expected", a.dimensions))
		return nil, 0, kerr.New(kerr.CodeEncoderFailure, "Invalid embedding generated",
			kerr.Field("dimension", len(vec)))
	}
	out := slices.Clone(vec)
	utils.NormalizeL2(out)
	if !utils.AllFinite(out) {
		return nil, 0, kerr.New(kerr.CodeEncoderFailure, "Invalid embedding generated")
	}
	return out, utils.L2Norm(out), nil
}

// Close releases the encoder.
func (a *Adapter) Close() error {
	if !a.Loaded() {
		return nil
	}
	return a.encoder.Close()
}
