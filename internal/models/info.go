package models

import "time"

// ServiceInfo is returned by the root endpoint.
type ServiceInfo struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	IndexLoaded bool   `json:"index_loaded"`
}

// HealthResponse reports resource state. Model and Index are "loaded" or "not_loaded".
type HealthResponse struct {
	Status      string `json:"status"`
	Model       string `json:"model"`
	Index       string `json:"index"`
	TotalImages int    `json:"total_images"`
}

// Resource states reported by HealthResponse.
const (
	StatusLoaded    = "loaded"
	StatusNotLoaded = "not_loaded"
)

// LoadStatus renders a loaded flag.
func LoadStatus(loaded bool) string {
	if loaded {
		return StatusLoaded
	}
	return StatusNotLoaded
}

// ModelInfo describes the loaded encoder.
type ModelInfo struct {
	ModelName          string `json:"model_name"`
	Backend            string `json:"backend"`
	Device             string `json:"device"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	ImageSize          int    `json:"image_size,omitempty"`
	ContextLength      int    `json:"context_length,omitempty"`
}

// IndexInfo describes the loaded index snapshot.
type IndexInfo struct {
	TotalVectors    int       `json:"total_vectors"`
	VectorDimension int       `json:"vector_dimension"`
	IndexType       string    `json:"index_type"`
	Metric          string    `json:"metric"`
	MetadataEntries int       `json:"metadata_entries"`
	SampleFiles     []string  `json:"sample_files"`
	SnapshotID      string    `json:"snapshot_id"`
	LoadedAt        time.Time `json:"loaded_at"`
}
