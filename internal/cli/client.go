package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/tidwall/gjson"
)

// Client talks to a running kagami server.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.HTTPClient.Timeout = timeout
	retryClient.Logger = nil
	// Surface the final 5xx body instead of a generic "giving up" error.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: retryClient,
	}
}

// Search searches by a precomputed embedding.
func (c *Client) Search(ctx context.Context, embedding []float32, topK int) (*models.SearchResponse, error) {
	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}
	var out models.SearchResponse
	err := c.do(ctx, http.MethodPost, "/search", models.SearchRequest{Embedding: vec, TopK: topK}, &out)
	return &out, err
}

// SearchImage searches by base64 image data.
func (c *Client) SearchImage(ctx context.Context, imageData string, topK int) (*models.SearchResponse, error) {
	var out models.SearchResponse
	err := c.do(ctx, http.MethodPost, "/search/image", models.SearchImageRequest{ImageData: imageData, TopK: topK}, &out)
	return &out, err
}

// SearchText searches by a text phrase.
func (c *Client) SearchText(ctx context.Context, text string, topK int) (*models.SearchResponse, error) {
	var out models.SearchResponse
	err := c.do(ctx, http.MethodPost, "/search/text", models.SearchTextRequest{Text: text, TopK: topK}, &out)
	return &out, err
}

// Status fetches health plus model and index info. Unloaded parts are left nil.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	st := &Status{Health: &models.HealthResponse{}}
	if err := c.do(ctx, http.MethodGet, "/health", nil, st.Health); err != nil {
		return nil, err
	}
	if st.Health.Model == models.StatusLoaded {
		var info models.ModelInfo
		if err := c.do(ctx, http.MethodGet, "/model-info", nil, &info); err == nil {
			st.Model = &info
		}
	}
	if st.Health.Index == models.StatusLoaded {
		var info models.IndexInfo
		if err := c.do(ctx, http.MethodGet, "/index-info", nil, &info); err == nil {
			st.Index = &info
		}
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorDetail extracts the message from a huma problem body or an edge error body.
func errorDetail(data []byte) string {
	if gjson.ValidBytes(data) {
		for _, key := range []string{"detail", "error"} {
			if v := gjson.GetBytes(data, key); v.Type == gjson.String {
				return v.Str
			}
		}
	}
	return strings.TrimSpace(string(data))
}
