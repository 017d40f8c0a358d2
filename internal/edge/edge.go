// Package edge is the minimal binding: one permissive-CORS http.Handler that
// serves embedding search and a health probe, suited to serverless hosts.
package edge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/search"
	kerr "github.com/hyperjump/kagami/pkg/errors"
	"github.com/hyperjump/kagami/pkg/utils"
	"go.uber.org/zap"
)

// ServiceName is reported by the health probe.
const ServiceName = "image-similarity-backend"

const textNotImplemented = "Text search not implemented yet"

type searchResponse struct {
	Success      bool                   `json:"success"`
	Results      []*models.SearchResult `json:"results"`
	TotalResults int                    `json:"total_results"`
	Message      string                 `json:"message,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	IndexLoaded    bool   `json:"index_loaded"`
	MetadataLoaded bool   `json:"metadata_loaded"`
}

// Handler serves the minimal API.
type Handler struct {
	service      *search.Service
	topK         int
	maxBodyBytes int64
	logger       *zap.Logger
}

// New creates the handler. topK is the fixed result count for searches.
func New(service *search.Service, topK int, maxBodyBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		service:      service,
		topK:         topK,
		maxBodyBytes: maxBodyBytes,
		logger:       utils.OrNop(logger),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.Error("edge handler panicked",
				zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		}
	}()

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if r.URL.Path != "/health" {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status:         "healthy",
			Service:        ServiceName,
			IndexLoaded:    h.service.IndexLoaded(),
			MetadataLoaded: h.service.MetadataLoaded(),
		})
	case http.MethodPost:
		h.handleSearch(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
	}
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	// Dispatch is on key presence, so {"text": null} still selects text search.
	var req map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"})
			return
		}
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request format"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON: " + err.Error()})
		return
	}

	rawEmbedding, hasEmbedding := req["embedding"]
	_, hasText := req["text"]
	switch {
	case hasEmbedding:
		var embedding []float64
		if err := json.Unmarshal(rawEmbedding, &embedding); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid embedding: " + err.Error()})
			return
		}
		if embedding == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Embedding is required"})
			return
		}
		resp, err := h.service.Search(r.Context(), models.ToFloat32(embedding), h.topK)
		if err != nil {
			status := kerr.HTTPStatus(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error("edge search failed", zap.Error(err))
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, searchResponse{
			Success:      true,
			Results:      resp.Results,
			TotalResults: resp.TotalResults,
		})
	case hasText:
		writeJSON(w, http.StatusOK, searchResponse{
			Success: true,
			Results: []*models.SearchResult{},
			Message: textNotImplemented,
		})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request format"})
	}
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
