package models

// SearchRequest searches by a precomputed embedding. TopK <= 0 means the default.
type SearchRequest struct {
	Embedding []float64 `json:"embedding,omitempty"`
	TopK      int       `json:"top_k,omitempty"`
}

// EmbedImageRequest carries base64 image data, optionally as a data URL.
type EmbedImageRequest struct {
	ImageData string `json:"image_data,omitempty"`
}

// EmbedTextRequest carries a text phrase.
type EmbedTextRequest struct {
	Text string `json:"text,omitempty"`
}

// SearchImageRequest embeds an image and searches with it.
type SearchImageRequest struct {
	ImageData string `json:"image_data,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

// SearchTextRequest embeds a text phrase and searches with it.
type SearchTextRequest struct {
	Text string `json:"text,omitempty"`
	TopK int    `json:"top_k,omitempty"`
}

// ToFloat32 converts JSON numbers to float32. Values beyond float32 range become ±Inf.
func ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
