// Package models holds the request and response types shared by the HTTP
// bindings and the CLI.
package models

// SearchResult is a single nearest-neighbor match.
type SearchResult struct {
	Rank       int     `json:"rank"`
	Index      int64   `json:"index"`
	Filename   string  `json:"filename"`
	Filepath   string  `json:"filepath"`
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
}

// SearchResponse is the result of a search by embedding, image or text.
type SearchResponse struct {
	QueryEmbeddingNorm float64         `json:"query_embedding_norm"`
	TotalResults       int             `json:"total_results"`
	Results            []*SearchResult `json:"results"`
}

// EmbedResponse carries a unit-length embedding and its norm.
type EmbedResponse struct {
	Embedding     []float32 `json:"embedding"`
	EmbeddingNorm float64   `json:"embedding_norm"`
}
