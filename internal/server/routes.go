package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hyperjump/kagami/internal/models"
	kerr "github.com/hyperjump/kagami/pkg/errors"
	"go.uber.org/zap"
)

func (s *Server) registerRoutes() {
	maxBody := s.cfg.MaxBodyBytes

	huma.Register(s.api, huma.Operation{
		OperationID: "service-info",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Service information",
		Tags:        []string{"system"},
	}, s.handleRoot)

	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "model-info",
		Method:      http.MethodGet,
		Path:        "/model-info",
		Summary:     "Encoder information",
		Tags:        []string{"system"},
	}, s.handleModelInfo)

	huma.Register(s.api, huma.Operation{
		OperationID: "index-info",
		Method:      http.MethodGet,
		Path:        "/index-info",
		Summary:     "Index information",
		Tags:        []string{"system"},
	}, s.handleIndexInfo)

	huma.Register(s.api, huma.Operation{
		OperationID:  "embed-image",
		Method:       http.MethodPost,
		Path:         "/embed/image",
		Summary:      "Embed a base64 image",
		Tags:         []string{"embed"},
		MaxBodyBytes: maxBody,
	}, s.handleEmbedImage)

	huma.Register(s.api, huma.Operation{
		OperationID:  "embed-text",
		Method:       http.MethodPost,
		Path:         "/embed/text",
		Summary:      "Embed a text phrase",
		Tags:         []string{"embed"},
		MaxBodyBytes: maxBody,
	}, s.handleEmbedText)

	huma.Register(s.api, huma.Operation{
		OperationID:  "search",
		Method:       http.MethodPost,
		Path:         "/search",
		Summary:      "Search by embedding",
		Description:  "Returns the nearest indexed images, nearest first. similarity is reported as 1 - distance.",
		Tags:         []string{"search"},
		MaxBodyBytes: maxBody,
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID:  "search-image",
		Method:       http.MethodPost,
		Path:         "/search/image",
		Summary:      "Search by image",
		Tags:         []string{"search"},
		MaxBodyBytes: maxBody,
	}, s.handleSearchImage)

	huma.Register(s.api, huma.Operation{
		OperationID:  "search-text",
		Method:       http.MethodPost,
		Path:         "/search/text",
		Summary:      "Search by text",
		Tags:         []string{"search"},
		MaxBodyBytes: maxBody,
	}, s.handleSearchText)

	huma.Register(s.api, huma.Operation{
		OperationID: "reload-index",
		Method:      http.MethodPost,
		Path:        "/admin/reload",
		Summary:     "Reload index and metadata",
		Tags:        []string{"admin"},
	}, s.handleReload)
}

// --- Request/Response types for huma ---

type serviceInfoOutput struct {
	Body *models.ServiceInfo
}

type healthOutput struct {
	Body *models.HealthResponse
}

type modelInfoOutput struct {
	Body *models.ModelInfo
}

type indexInfoOutput struct {
	Body *models.IndexInfo
}

type embedImageInput struct {
	Body models.EmbedImageRequest
}

type embedTextInput struct {
	Body models.EmbedTextRequest
}

type embedOutput struct {
	Body *models.EmbedResponse
}

type searchInput struct {
	Body models.SearchRequest
}

type searchImageInput struct {
	Body models.SearchImageRequest
}

type searchTextInput struct {
	Body models.SearchTextRequest
}

type searchOutput struct {
	Body *models.SearchResponse
}

type reloadOutput struct {
	Body struct {
		Status     string `json:"status"`
		SnapshotID string `json:"snapshot_id"`
	}
}

// --- Handlers ---

func (s *Server) handleRoot(_ context.Context, _ *struct{}) (*serviceInfoOutput, error) {
	return &serviceInfoOutput{Body: &models.ServiceInfo{
		Service:     ServiceName,
		Version:     s.version,
		Status:      "running",
		ModelLoaded: s.service.ModelLoaded(),
		IndexLoaded: s.service.IndexLoaded(),
	}}, nil
}

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*healthOutput, error) {
	return &healthOutput{Body: s.service.Health()}, nil
}

func (s *Server) handleModelInfo(_ context.Context, _ *struct{}) (*modelInfoOutput, error) {
	info, err := s.service.ModelInfo()
	if err != nil {
		return nil, s.fail(err)
	}
	return &modelInfoOutput{Body: info}, nil
}

func (s *Server) handleIndexInfo(_ context.Context, _ *struct{}) (*indexInfoOutput, error) {
	info, err := s.service.IndexInfo()
	if err != nil {
		return nil, s.fail(err)
	}
	return &indexInfoOutput{Body: info}, nil
}

func (s *Server) handleEmbedImage(ctx context.Context, input *embedImageInput) (*embedOutput, error) {
	if input.Body.ImageData == "" {
		return nil, huma.Error400BadRequest("Image data is required")
	}
	resp, err := s.service.EmbedImage(ctx, input.Body.ImageData)
	if err != nil {
		return nil, s.fail(err)
	}
	return &embedOutput{Body: resp}, nil
}

func (s *Server) handleEmbedText(ctx context.Context, input *embedTextInput) (*embedOutput, error) {
	resp, err := s.service.EmbedText(ctx, input.Body.Text)
	if err != nil {
		return nil, s.fail(err)
	}
	return &embedOutput{Body: resp}, nil
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	if len(input.Body.Embedding) == 0 {
		return nil, huma.Error400BadRequest("Embedding is required")
	}
	resp, err := s.service.Search(ctx, models.ToFloat32(input.Body.Embedding), input.Body.TopK)
	if err != nil {
		return nil, s.fail(err)
	}
	return &searchOutput{Body: resp}, nil
}

func (s *Server) handleSearchImage(ctx context.Context, input *searchImageInput) (*searchOutput, error) {
	if input.Body.ImageData == "" {
		return nil, huma.Error400BadRequest("Image data is required")
	}
	resp, err := s.service.SearchImage(ctx, input.Body.ImageData, input.Body.TopK)
	if err != nil {
		return nil, s.fail(err)
	}
	return &searchOutput{Body: resp}, nil
}

func (s *Server) handleSearchText(ctx context.Context, input *searchTextInput) (*searchOutput, error) {
	resp, err := s.service.SearchText(ctx, input.Body.Text, input.Body.TopK)
	if err != nil {
		return nil, s.fail(err)
	}
	return &searchOutput{Body: resp}, nil
}

func (s *Server) handleReload(ctx context.Context, _ *struct{}) (*reloadOutput, error) {
	if s.loader == nil {
		return nil, huma.Error503ServiceUnavailable("Reload not available")
	}
	if err := s.loader.Reload(ctx); err != nil {
		s.logger.Warn("reload failed", zap.Error(err))
		return nil, huma.Error503ServiceUnavailable("Reload failed: " + err.Error())
	}
	out := &reloadOutput{}
	out.Body.Status = "reloaded"
	if info, err := s.service.IndexInfo(); err == nil {
		out.Body.SnapshotID = info.SnapshotID
	}
	return out, nil
}

// fail maps a coded service error to a huma error with the same status.
func (s *Server) fail(err error) error {
	msg := err.Error()
	switch kerr.HTTPStatus(err) {
	case http.StatusBadRequest:
		return huma.Error400BadRequest(msg)
	case http.StatusServiceUnavailable:
		return huma.Error503ServiceUnavailable(msg)
	default:
		s.logger.Error("request failed", zap.Error(err), zap.String("code", string(kerr.CodeOf(err))))
		return huma.Error500InternalServerError(msg)
	}
}
