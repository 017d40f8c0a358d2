// Package search orchestrates embedding and nearest-neighbor search for
// both HTTP bindings and the CLI.
package search

import (
	"context"
	"runtime/debug"
	"slices"
	"time"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/resources"
	kerr "github.com/hyperjump/kagami/pkg/errors"
	"github.com/hyperjump/kagami/pkg/utils"
	"go.uber.org/zap"
)

// sampleFiles is how many filenames IndexInfo reports.
const sampleFiles = 5

// Resources is the view of the resource loader the service needs.
type Resources interface {
	EnsureLoaded(ctx context.Context) bool
	Acquire() *resources.Snapshot
	Snapshot() *resources.Snapshot
}

// Service answers search, embed and info requests.
type Service struct {
	cfg       config.SearchConfig
	encoder   *embedding.Adapter
	resources Resources
	logger    *zap.Logger
	metrics   metrics.Recorder
}

// NewService creates a service. encoder must be non-nil; an adapter without
// an encoder reports the model as not loaded. rec may be nil.
func NewService(cfg config.SearchConfig, encoder *embedding.Adapter, res Resources, rec metrics.Recorder, logger *zap.Logger) *Service {
	if rec == nil {
		rec = (*metrics.Metrics)(nil)
	}
	return &Service{
		cfg:       cfg,
		encoder:   encoder,
		resources: res,
		logger:    utils.OrNop(logger),
		metrics:   rec,
	}
}

// Dimensions returns the embedding dimension queries must have.
func (s *Service) Dimensions() int {
	return s.encoder.Dimensions()
}

// Search returns the topK nearest indexed images to query. topK <= 0 uses
// the configured default. The caller's slice is not modified.
func (s *Service) Search(ctx context.Context, query []float32, topK int) (*models.SearchResponse, error) {
	start := time.Now()
	resp, err := s.search(ctx, query, topK)
	results := 0
	if resp != nil {
		results = resp.TotalResults
	}
	s.metrics.RecordSearch(outcome(err), results, time.Since(start))
	return resp, err
}

func (s *Service) search(ctx context.Context, query []float32, topK int) (resp *models.SearchResponse, err error) {
	if err := validateEmbedding(query, s.encoder.Dimensions()); err != nil {
		return nil, err
	}
	if !s.resources.EnsureLoaded(ctx) {
		return nil, kerr.New(kerr.CodeIndexUnavailable, "Index not loaded")
	}
	snap := s.resources.Acquire()
	if snap == nil {
		return nil, kerr.New(kerr.CodeIndexUnavailable, "Index not loaded")
	}
	defer snap.Release()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("index search panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			resp, err = nil, kerr.Errorf(kerr.CodeInternalFailure, "Search failed: %v", r)
		}
	}()

	q := slices.Clone(query)
	norm := utils.NormalizeL2(q)

	k := min(resolveTopK(topK, s.cfg.DefaultTopK, s.cfg.MaxTopK), snap.Index.Total())
	resp = &models.SearchResponse{
		QueryEmbeddingNorm: norm,
		Results:            []*models.SearchResult{},
	}
	if k <= 0 {
		return resp, nil
	}

	hits, err := snap.Index.Search(ctx, q, k)
	if err != nil {
		s.logger.Error("index search failed", zap.Error(err))
		return nil, kerr.Wrap(err, kerr.CodeSearchFailure, "Search failed")
	}

	entries := int64(snap.Metadata.Len())
	for _, hit := range hits {
		if hit.Label < 0 || hit.Label >= entries {
			continue
		}
		filename := snap.Metadata.Filename(int(hit.Label))
		resp.Results = append(resp.Results, &models.SearchResult{
			Rank:       len(resp.Results) + 1,
			Index:      hit.Label,
			Filename:   filename,
			Filepath:   joinFilepath(s.cfg.FilePathPrefix, filename),
			Similarity: 1 - float64(hit.Distance),
			Distance:   float64(hit.Distance),
		})
	}
	resp.TotalResults = len(resp.Results)
	return resp, nil
}

// EmbedImage decodes base64 (or data URL) image data and embeds it.
func (s *Service) EmbedImage(ctx context.Context, imageData string) (*models.EmbedResponse, error) {
	start := time.Now()
	resp, err := s.embedImage(ctx, imageData)
	s.metrics.RecordEmbedding("image", outcome(err), time.Since(start))
	return resp, err
}

func (s *Service) embedImage(ctx context.Context, imageData string) (*models.EmbedResponse, error) {
	if !s.encoder.Loaded() {
		return nil, kerr.New(kerr.CodeEncoderUnavailable, "Model not loaded")
	}
	maxPixels := s.cfg.MaxImagePixels
	if maxPixels == 0 {
		maxPixels = embedding.DefaultMaxImagePixels
	}
	img, err := embedding.DecodeBase64ImageLimit(imageData, maxPixels)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeRequestInvalid, "Invalid image data")
	}
	vec, norm, err := s.encoder.EmbedImage(ctx, img)
	if err != nil {
		return nil, s.embedFailure(err)
	}
	return &models.EmbedResponse{Embedding: vec, EmbeddingNorm: norm}, nil
}

// EmbedText embeds a text phrase of 1 to search.max_text_length characters.
func (s *Service) EmbedText(ctx context.Context, text string) (*models.EmbedResponse, error) {
	start := time.Now()
	resp, err := s.embedText(ctx, text)
	s.metrics.RecordEmbedding("text", outcome(err), time.Since(start))
	return resp, err
}

func (s *Service) embedText(ctx context.Context, text string) (*models.EmbedResponse, error) {
	if !s.encoder.Loaded() {
		return nil, kerr.New(kerr.CodeEncoderUnavailable, "Model not loaded")
	}
	if err := validateText(text, s.cfg.MaxTextLength); err != nil {
		return nil, err
	}
	vec, norm, err := s.encoder.EmbedText(ctx, text)
	if err != nil {
		s.logger.Debug("text embedding failed", zap.String("text", utils.Truncate(text, 80)), zap.Error(err))
		return nil, s.embedFailure(err)
	}
	return &models.EmbedResponse{Embedding: vec, EmbeddingNorm: norm}, nil
}

func (s *Service) embedFailure(err error) error {
	if kerr.IsUnavailable(err) || kerr.IsInvalid(err) {
		return err
	}
	return kerr.Wrap(err, kerr.CodeEncoderFailure, "Embedding generation failed")
}

// SearchImage embeds an image and searches with it.
func (s *Service) SearchImage(ctx context.Context, imageData string, topK int) (*models.SearchResponse, error) {
	emb, err := s.EmbedImage(ctx, imageData)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, emb.Embedding, topK)
}

// SearchText embeds a text phrase and searches with it.
func (s *Service) SearchText(ctx context.Context, text string, topK int) (*models.SearchResponse, error) {
	emb, err := s.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, emb.Embedding, topK)
}

// ModelInfo describes the loaded encoder.
func (s *Service) ModelInfo() (*models.ModelInfo, error) {
	info, ok := s.encoder.Info()
	if !ok {
		return nil, kerr.New(kerr.CodeEncoderUnavailable, "Model not loaded")
	}
	return &models.ModelInfo{
		ModelName:          info.Name,
		Backend:            info.Backend,
		Device:             info.Device,
		EmbeddingDimension: s.encoder.Dimensions(),
		ImageSize:          info.ImageSize,
		ContextLength:      info.ContextLength,
	}, nil
}

// IndexInfo describes the current snapshot. It does not trigger a load.
func (s *Service) IndexInfo() (*models.IndexInfo, error) {
	snap := s.resources.Acquire()
	if snap == nil {
		return nil, kerr.New(kerr.CodeIndexUnavailable, "Index not loaded")
	}
	defer snap.Release()
	return &models.IndexInfo{
		TotalVectors:    snap.Index.Total(),
		VectorDimension: snap.Index.Dimension(),
		IndexType:       snap.Index.Type(),
		Metric:          snap.Index.Metric().String(),
		MetadataEntries: snap.Metadata.Len(),
		SampleFiles:     snap.Metadata.Sample(sampleFiles),
		SnapshotID:      snap.ID.String(),
		LoadedAt:        snap.LoadedAt,
	}, nil
}

// Health reports the encoder and index state.
func (s *Service) Health() *models.HealthResponse {
	total := 0
	snap := s.resources.Acquire()
	if snap != nil {
		total = snap.Index.Total()
		snap.Release()
	}
	return &models.HealthResponse{
		Status:      "healthy",
		Model:       models.LoadStatus(s.encoder.Loaded()),
		Index:       models.LoadStatus(snap != nil),
		TotalImages: total,
	}
}

// ModelLoaded reports whether the encoder is available.
func (s *Service) ModelLoaded() bool {
	return s.encoder.Loaded()
}

// IndexLoaded reports whether a snapshot is published.
func (s *Service) IndexLoaded() bool {
	return s.resources.Snapshot() != nil
}

// MetadataLoaded reports whether the published snapshot carries metadata.
func (s *Service) MetadataLoaded() bool {
	snap := s.resources.Snapshot()
	return snap != nil && snap.Metadata != nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case kerr.IsInvalid(err):
		return metrics.OutcomeInvalid
	case kerr.IsUnavailable(err):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}
