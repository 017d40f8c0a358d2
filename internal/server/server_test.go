package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/metadata"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/resources"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dims = 512

type stubResources struct {
	snap      *resources.Snapshot
	reloadErr error
	reloads   int
}

func (s *stubResources) EnsureLoaded(context.Context) bool { return s.snap != nil }
func (s *stubResources) Acquire() *resources.Snapshot    { return s.snap }
func (s *stubResources) Snapshot() *resources.Snapshot   { return s.snap }
func (s *stubResources) Reload(context.Context) error {
	s.reloads++
	return s.reloadErr
}

func unit(i int) []float32 {
	v := make([]float32, dims)
	v[i] = 1
	return v
}

func loadedResources(t *testing.T) *stubResources {
	t.Helper()
	idx, err := vector.NewFlatIndex(vector.MetricL2, [][]float32{unit(0), unit(1), unit(2)})
	require.NoError(t, err)
	return &stubResources{snap: &resources.Snapshot{
		ID:       uuid.New(),
		Index:    idx,
		Metadata: metadata.New([]string{"a.jpg", "b.jpg", "c.jpg"}),
	}}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		CORSOrigins:  []string{"http://localhost:3000"},
		MaxBodyBytes: 20 << 20,
	}
}

func newTestServer(t *testing.T, cfg config.ServerConfig, res *stubResources, enc embedding.Encoder) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	adapter := embedding.NewAdapter(enc, dims, 10, nil)
	svc := search.NewService(config.SearchConfig{
		DefaultTopK: 20, MaxTopK: 100, FilePathPrefix: "/sample-images", MaxTextLength: 1000,
	}, adapter, res, m, nil)
	srv, err := New(cfg, Deps{Service: svc, Reloader: res, Metrics: m, Version: "1.0.0"})
	require.NoError(t, err)
	return srv, m
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(3, 3, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(testServerConfig(), Deps{})
	assert.Error(t, err)
}

func TestRootAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), embedding.NewMockEncoder(dims))

	rec := do(t, srv.Handler(), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[models.ServiceInfo](t, rec)
	assert.Equal(t, ServiceName, info.Service)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "running", info.Status)
	assert.True(t, info.ModelLoaded)
	assert.True(t, info.IndexLoaded)

	rec = do(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "loaded", health.Model)
	assert.Equal(t, "loaded", health.Index)
	assert.Equal(t, 3, health.TotalImages)
}

func TestInfoEndpoints_Unavailable(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), &stubResources{}, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/model-info", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Model not loaded")

	rec = do(t, srv.Handler(), http.MethodGet, "/index-info", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Index not loaded")

	rec = do(t, srv.Handler(), http.MethodGet, "/health", nil)
	health := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "not_loaded", health.Model)
	assert.Equal(t, "not_loaded", health.Index)
}

func TestIndexInfo(t *testing.T) {
	res := loadedResources(t)
	srv, _ := newTestServer(t, testServerConfig(), res, embedding.NewMockEncoder(dims))

	rec := do(t, srv.Handler(), http.MethodGet, "/index-info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[models.IndexInfo](t, rec)
	assert.Equal(t, 3, info.TotalVectors)
	assert.Equal(t, dims, info.VectorDimension)
	assert.Equal(t, "flat", info.IndexType)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, info.SampleFiles)
	assert.Equal(t, res.snap.ID.String(), info.SnapshotID)
}

func TestSearch(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), embedding.NewMockEncoder(dims))

	rec := do(t, srv.Handler(), http.MethodPost, "/search", models.SearchRequest{Embedding: toFloat64(unit(1)), TopK: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.SearchResponse](t, rec)
	require.Equal(t, 2, resp.TotalResults)
	assert.Equal(t, "b.jpg", resp.Results[0].Filename)
	assert.Equal(t, "/sample-images/b.jpg", resp.Results[0].Filepath)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.InDelta(t, 1.0, resp.QueryEmbeddingNorm, 1e-6)
}

func TestSearch_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), embedding.NewMockEncoder(dims))

	tests := []struct {
		name   string
		body   any
		detail string
	}{
		{"missing embedding", `{}`, "Embedding is required"},
		{"two dimensions", `{"embedding":[0.1,0.2]}`, "512-dimensional"},
		{"out of float32 range", models.SearchRequest{Embedding: append(toFloat64(unit(0))[:dims-1], 1e39)}, "NaN or Inf"},
		{"embedding not an array", `{"embedding":"abc"}`, "validation failed"},
		{"top_k not a number", `{"embedding":[1,2],"top_k":"x"}`, "validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodPost, "/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.detail)
		})
	}

	rec := do(t, srv.Handler(), http.MethodPost, "/search", `{"embedding":`)
	assert.GreaterOrEqual(t, rec.Code, 400)
	assert.Less(t, rec.Code, 500)
}

func TestSearch_IndexUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), &stubResources{}, embedding.NewMockEncoder(dims))

	rec := do(t, srv.Handler(), http.MethodPost, "/search", models.SearchRequest{Embedding: toFloat64(unit(0))})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Index not loaded")
}

func TestEmbedEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), embedding.NewMockEncoder(dims))

	rec := do(t, srv.Handler(), http.MethodPost, "/embed/image", models.EmbedImageRequest{ImageData: pngBase64(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	emb := decode[models.EmbedResponse](t, rec)
	assert.Len(t, emb.Embedding, dims)
	assert.InDelta(t, 1.0, emb.EmbeddingNorm, 1e-5)

	rec = do(t, srv.Handler(), http.MethodPost, "/embed/image", models.EmbedImageRequest{ImageData: "@@@"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid image data")

	rec = do(t, srv.Handler(), http.MethodPost, "/embed/image", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/embed/image", `{"image_data":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/embed/text", `{"text":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/search/text", `{"text":"cat","top_k":[1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodPost, "/embed/text", models.EmbedTextRequest{Text: "a photo of a cat"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	emb = decode[models.EmbedResponse](t, rec)
	assert.Len(t, emb.Embedding, dims)

	rec = do(t, srv.Handler(), http.MethodPost, "/embed/text", models.EmbedTextRequest{Text: strings.Repeat("x", 1001)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbed_ModelNotLoaded(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/embed/text", models.EmbedTextRequest{Text: "cat"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Model not loaded")
}

func TestConvenienceSearchRoutes(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), embedding.NewMockEncoder(dims))

	rec := do(t, srv.Handler(), http.MethodPost, "/search/text", models.SearchTextRequest{Text: "cat", TopK: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[models.SearchResponse](t, rec).TotalResults)

	rec = do(t, srv.Handler(), http.MethodPost, "/search/image", models.SearchImageRequest{ImageData: pngBase64(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[models.SearchResponse](t, rec).TotalResults)
}

func TestReload(t *testing.T) {
	res := loadedResources(t)
	srv, _ := newTestServer(t, testServerConfig(), res, embedding.NewMockEncoder(dims))

	rec := do(t, srv.Handler(), http.MethodPost, "/admin/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), res.snap.ID.String())
	assert.Equal(t, 1, res.reloads)

	res.reloadErr = errors.New("cdn down")
	rec = do(t, srv.Handler(), http.MethodPost, "/admin/reload", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "cdn down")
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), embedding.NewMockEncoder(dims))

	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2}
	srv, _ := newTestServer(t, cfg, loadedResources(t), embedding.NewMockEncoder(dims))

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, srv.Handler(), http.MethodGet, "/health", nil).Code
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testServerConfig(), loadedResources(t), embedding.NewMockEncoder(dims))
	do(t, srv.Handler(), http.MethodPost, "/search", models.SearchRequest{Embedding: toFloat64(unit(0))})

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `kagami_searches_total{outcome="success"} 1`)
	assert.Contains(t, body, `route="/search"`)
}

func TestRecoverer(t *testing.T) {
	h := recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":500`)
}
