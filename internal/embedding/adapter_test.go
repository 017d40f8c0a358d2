package embedding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/hyperjump/kagami/internal/config"
	kerr "github.com/hyperjump/kagami/pkg/errors"
	"github.com/hyperjump/kagami/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEncoder) EncodeImage(context.Context, image.Image) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func (f *fakeEncoder) EncodeText(context.Context, string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func (f *fakeEncoder) Dimensions() int { return len(f.vec) }
func (f *fakeEncoder) Info() ModelInfo { return ModelInfo{Name: "fake"} }
func (f *fakeEncoder) Close() error    { return nil }

func redImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	return img
}

func TestAdapter_Unloaded(t *testing.T) {
	a := NewAdapter(nil, 512, 10, nil)
	assert.False(t, a.Loaded())

	_, _, err := a.EmbedText(context.Background(), "cat")
	assert.True(t, kerr.HasCode(err, kerr.CodeEncoderUnavailable))
	_, _, err = a.EmbedImage(context.Background(), redImage(4))
	assert.True(t, kerr.HasCode(err, kerr.CodeEncoderUnavailable))

	_, ok := a.Info()
	assert.False(t, ok)
	assert.NoError(t, a.Close())
}

func TestAdapter_NormalizesMockOutput(t *testing.T) {
	a := NewAdapter(NewMockEncoder(512), 512, 10, nil)
	ctx := context.Background()

	vec, norm, err := a.EmbedImage(ctx, redImage(100))
	require.NoError(t, err)
	assert.Len(t, vec, 512)
	assert.InDelta(t, 1.0, norm, 1e-3)
	assert.True(t, utils.AllFinite(vec))

	tvec, tnorm, err := a.EmbedText(ctx, "a photo of a cat")
	require.NoError(t, err)
	assert.Len(t, tvec, 512)
	assert.InDelta(t, 1.0, tnorm, 1e-3)
}

func TestAdapter_DimensionMismatch(t *testing.T) {
	a := NewAdapter(&fakeEncoder{vec: []float32{1, 2}}, 512, 0, nil)
	_, _, err := a.EmbedText(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, kerr.HasCode(err, kerr.CodeEncoderFailure))
	assert.Equal(t, 500, kerr.HTTPStatus(err))
}

func TestAdapter_NonFinite(t *testing.T) {
	a := NewAdapter(&fakeEncoder{vec: []float32{1, float32(math.NaN())}}, 2, 0, nil)
	_, _, err := a.EmbedImage(context.Background(), redImage(2))
	assert.True(t, kerr.HasCode(err, kerr.CodeEncoderFailure))
}

func TestAdapter_EncoderError(t *testing.T) {
	cause := errors.New("session exploded")
	a := NewAdapter(&fakeEncoder{vec: []float32{1}, err: cause}, 1, 0, nil)
	_, _, err := a.EmbedText(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, kerr.HasCode(err, kerr.CodeEncoderFailure))
}

func TestAdapter_TextCache(t *testing.T) {
	enc := &fakeEncoder{vec: []float32{3, 4}}
	a := NewAdapter(enc, 2, 10, nil)
	ctx := context.Background()

	first, _, err := a.EmbedText(ctx, "cat")
	require.NoError(t, err)
	first[0] = 42 // caller mutation must not leak into the cache

	second, norm, err := a.EmbedText(ctx, "cat")
	require.NoError(t, err)
	assert.Equal(t, 1, enc.calls)
	assert.InDelta(t, 0.6, second[0], 1e-6)
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestAdapter_ZeroVectorPassesThrough(t *testing.T) {
	a := NewAdapter(&fakeEncoder{vec: []float32{0, 0}}, 2, 0, nil)
	vec, norm, err := a.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, vec)
	assert.Zero(t, norm)
}

func TestMockEncoder_Deterministic(t *testing.T) {
	enc := NewMockEncoder(64)
	ctx := context.Background()
	a, _ := enc.EncodeText(ctx, "cat")
	b, _ := enc.EncodeText(ctx, "cat")
	c, _ := enc.EncodeText(ctx, "dog")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	x, _ := enc.EncodeImage(ctx, redImage(10))
	y, _ := enc.EncodeImage(ctx, redImage(40))
	assert.Len(t, x, 64)
	nx, ny := utils.L2Norm(x), utils.L2Norm(y)
	var dot float64
	for i := range x {
		dot += float64(x[i]) * float64(y[i])
	}
	assert.Greater(t, dot/(nx*ny), 0.99, "same-colour images should map close together")
}

func TestNewEncoder_Mock(t *testing.T) {
	enc, err := NewEncoder(mockConfig())
	require.NoError(t, err)
	assert.Equal(t, 512, enc.Dimensions())
	assert.Equal(t, "mock", enc.Info().Backend)
}

func mockConfig() config.EncoderConfig {
	return config.EncoderConfig{Backend: "mock", Dimensions: 512}
}

func TestNewEncoder_Unknown(t *testing.T) {
	_, err := NewEncoder(config.EncoderConfig{Backend: "torch"})
	assert.Error(t, err)
}
