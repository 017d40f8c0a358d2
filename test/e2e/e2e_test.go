package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/edge"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/resources"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	corpus     *Corpus
	api        *httptest.Server
	edge       *httptest.Server
	loader     *resources.Loader
	indexFetch *atomic.Int32
}

// newStack serves the corpus from a content store and wires the real loader,
// service and both HTTP bindings on top of it.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	enc := embedding.NewAdapter(embedding.NewMockEncoder(Dimensions), Dimensions, 100, nil)
	corpus, err := BuildCorpus(ctx, enc)
	require.NoError(t, err)

	storeDir := t.TempDir()
	require.NoError(t, WriteStore(storeDir, corpus))

	fetches := &atomic.Int32{}
	files := http.FileServer(http.Dir(storeDir))
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+IndexFile {
			fetches.Add(1)
		}
		files.ServeHTTP(w, r)
	}))
	t.Cleanup(cdn.Close)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Resources.BaseURL = cdn.URL
	cfg.Resources.IndexFile = IndexFile
	cfg.Resources.MetadataFile = MetadataFile
	cfg.Resources.Backend = "flat"
	cfg.Resources.ScratchDir = t.TempDir()
	cfg.Resources.IndexTimeout = 10 * time.Second
	cfg.Resources.MetadataTimeout = 10 * time.Second

	m := metrics.New()
	loader := resources.NewLoader(cfg.Resources,
		resources.WithMetrics(m),
		resources.WithDimension(Dimensions),
	)
	t.Cleanup(func() { _ = loader.Close() })

	svc := search.NewService(cfg.Search, enc, loader, m, nil)
	srv, err := server.New(cfg.Server, server.Deps{Service: svc, Reloader: loader, Metrics: m, Version: "e2e"})
	require.NoError(t, err)

	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	edgeSrv := httptest.NewServer(edge.New(svc, cfg.Edge.DefaultTopK, cfg.Server.MaxBodyBytes, nil))
	t.Cleanup(edgeSrv.Close)

	return &stack{corpus: corpus, api: api, edge: edgeSrv, loader: loader, indexFetch: fetches}
}

func post(t *testing.T, url string, body any) (int, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func assertRanked(t *testing.T, resp *models.SearchResponse) {
	t.Helper()
	assert.Equal(t, len(resp.Results), resp.TotalResults)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.InDelta(t, 1-r.Distance, r.Similarity, 1e-9)
		assert.Equal(t, "/sample-images/"+r.Filename, r.Filepath)
		if i > 0 {
			assert.LessOrEqual(t, resp.Results[i-1].Distance, r.Distance, "results must be nearest first")
		}
	}
}

func TestE2E_LazyLoadOnFirstSearch(t *testing.T) {
	s := newStack(t)

	var health models.HealthResponse
	require.Equal(t, http.StatusOK, get(t, s.api.URL+"/health", &health))
	assert.Equal(t, models.StatusLoaded, health.Model)
	assert.Equal(t, models.StatusNotLoaded, health.Index)
	assert.Equal(t, int32(0), s.indexFetch.Load(), "nothing is fetched before the first search")

	tc := s.corpus.TestCases[0]
	status, body := post(t, s.api.URL+"/search", models.SearchRequest{Embedding: toFloat64(tc.Query), TopK: ImagesPerTopic})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, int32(1), s.indexFetch.Load())

	require.Equal(t, http.StatusOK, get(t, s.api.URL+"/health", &health))
	assert.Equal(t, models.StatusLoaded, health.Index)
	assert.Equal(t, len(s.corpus.Entries), health.TotalImages)

	var info models.IndexInfo
	require.Equal(t, http.StatusOK, get(t, s.api.URL+"/index-info", &info))
	assert.Equal(t, len(s.corpus.Entries), info.TotalVectors)
	assert.Equal(t, Dimensions, info.VectorDimension)
	assert.Equal(t, "l2", info.Metric)
	assert.Len(t, info.SampleFiles, 5)
}

func TestE2E_TopicQueriesReturnTheirCluster(t *testing.T) {
	s := newStack(t)

	for _, tc := range s.corpus.TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			status, body := post(t, s.api.URL+"/search", models.SearchRequest{Embedding: toFloat64(tc.Query), TopK: ImagesPerTopic})
			require.Equal(t, http.StatusOK, status, string(body))
			var resp models.SearchResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			assertRanked(t, &resp)
			assert.InDelta(t, 1.0, resp.QueryEmbeddingNorm, 1e-6)

			got := make([]string, len(resp.Results))
			for i, r := range resp.Results {
				got[i] = r.Filename
			}
			assert.ElementsMatch(t, tc.Expected, got)
		})
	}
	assert.Equal(t, int32(1), s.indexFetch.Load(), "the index is fetched once for all queries")
}

func TestE2E_ImageSearchFindsSwatch(t *testing.T) {
	s := newStack(t)

	for _, a := range s.corpus.Anchors {
		if a.ImageData == "" {
			continue
		}
		t.Run(a.Filename, func(t *testing.T) {
			status, body := post(t, s.api.URL+"/search/image", models.SearchImageRequest{ImageData: a.ImageData, TopK: 5})
			require.Equal(t, http.StatusOK, status, string(body))
			var resp models.SearchResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			require.Len(t, resp.Results, 5)
			assertRanked(t, &resp)
			assert.Equal(t, a.Filename, resp.Results[0].Filename)
			assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-4)
		})
	}
}

func TestE2E_TextSearchFindsCaption(t *testing.T) {
	s := newStack(t)

	for _, a := range s.corpus.Anchors {
		if a.Text == "" {
			continue
		}
		t.Run(a.Text, func(t *testing.T) {
			status, body := post(t, s.api.URL+"/search/text", models.SearchTextRequest{Text: a.Text, TopK: 3})
			require.Equal(t, http.StatusOK, status, string(body))
			var resp models.SearchResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, a.Filename, resp.Results[0].Filename)
		})
	}
}

func TestE2E_EmbedImageIsUnitLength(t *testing.T) {
	s := newStack(t)
	data, err := SolidJPEG(Swatches[0].Color)
	require.NoError(t, err)

	status, body := post(t, s.api.URL+"/embed/image", models.EmbedImageRequest{ImageData: data})
	require.Equal(t, http.StatusOK, status, string(body))
	var emb models.EmbedResponse
	require.NoError(t, json.Unmarshal(body, &emb))
	assert.Len(t, emb.Embedding, Dimensions)
	assert.InDelta(t, 1.0, emb.EmbeddingNorm, 1e-5)
	assert.Equal(t, int32(0), s.indexFetch.Load(), "embedding does not need the index")
}

func TestE2E_InvalidRequests(t *testing.T) {
	s := newStack(t)

	status, body := post(t, s.api.URL+"/search", models.SearchRequest{Embedding: []float64{0.1, 0.2}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "Embedding must be 512-dimensional, got 2")

	status, _ = post(t, s.api.URL+"/search/image", models.SearchImageRequest{ImageData: "not-an-image"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = post(t, s.api.URL+"/search/text", models.SearchTextRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, int32(0), s.indexFetch.Load(), "invalid queries never trigger a load")
}

func TestE2E_ReloadPublishesNewSnapshot(t *testing.T) {
	s := newStack(t)

	var first, second struct {
		Status     string `json:"status"`
		SnapshotID string `json:"snapshot_id"`
	}
	status, body := post(t, s.api.URL+"/admin/reload", struct{}{})
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &first))

	status, body = post(t, s.api.URL+"/admin/reload", struct{}{})
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &second))

	assert.NotEmpty(t, first.SnapshotID)
	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)
	assert.Equal(t, int32(2), s.indexFetch.Load())
}

func TestE2E_EdgeBinding(t *testing.T) {
	s := newStack(t)
	tc := s.corpus.TestCases[3]

	status, body := post(t, s.edge.URL+"/", map[string]any{"embedding": toFloat64(tc.Query)})
	require.Equal(t, http.StatusOK, status, string(body))
	var resp struct {
		Success      bool                   `json:"success"`
		Results      []*models.SearchResult `json:"results"`
		TotalResults int                    `json:"total_results"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)
	require.Equal(t, 10, resp.TotalResults)
	got := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		got[i] = r.Filename
	}
	assert.ElementsMatch(t, tc.Expected, got)

	var health map[string]any
	require.Equal(t, http.StatusOK, get(t, s.edge.URL+"/health", &health))
	assert.Equal(t, true, health["index_loaded"])
}

func TestE2E_MetricsExposed(t *testing.T) {
	s := newStack(t)
	tc := s.corpus.TestCases[0]
	status, _ := post(t, s.api.URL+"/search", models.SearchRequest{Embedding: toFloat64(tc.Query)})
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(s.api.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "kagami_searches_total")
	assert.Contains(t, buf.String(), "kagami_resource_loads_total")
}
