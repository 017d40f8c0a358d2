// Package cli provides output formatting and the HTTP client used by the
// kagami command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kagami/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one tab-separated line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("invalid output format %q (supported: text, compact, json)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			if _, err := fmt.Fprintf(w, "%d\t%.4f\t%s\n", r.Rank, r.Similarity, r.Filepath); err != nil {
				return err
			}
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results (query norm %.4f)\n\n", response.TotalResults, response.QueryEmbeddingNorm)
	for _, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Similarity: %.4f | Distance: %.4f\n", r.Rank, r.Similarity, r.Distance)
		fmt.Fprintf(w, "File: %s\n", r.Filename)
		fmt.Fprintf(w, "Path: %s (index %d)\n", r.Filepath, r.Index)
	}
	if len(response.Results) > 0 {
		fmt.Fprintln(w)
	}
}

// Status is the combined service state printed by the status command.
// Model and Index are nil when not loaded.
type Status struct {
	Health *models.HealthResponse `json:"health"`
	Model  *models.ModelInfo      `json:"model,omitempty"`
	Index  *models.IndexInfo      `json:"index,omitempty"`
}

// WriteStatus writes the service state to w in the given format.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, st)
	case OutputCompact:
		_, err := fmt.Fprintf(w, "model=%s index=%s images=%d\n",
			st.Health.Model, st.Health.Index, st.Health.TotalImages)
		return err
	default:
		fmt.Fprintf(w, "Status:  %s\n", st.Health.Status)
		fmt.Fprintf(w, "Model:   %s\n", st.Health.Model)
		if st.Model != nil {
			fmt.Fprintf(w, "  name:       %s (%s, %s)\n", st.Model.ModelName, st.Model.Backend, st.Model.Device)
			fmt.Fprintf(w, "  dimensions: %d\n", st.Model.EmbeddingDimension)
		}
		fmt.Fprintf(w, "Index:   %s\n", st.Health.Index)
		if st.Index != nil {
			fmt.Fprintf(w, "  vectors:    %d x %d (%s, %s)\n",
				st.Index.TotalVectors, st.Index.VectorDimension, st.Index.IndexType, st.Index.Metric)
			fmt.Fprintf(w, "  metadata:   %d entries\n", st.Index.MetadataEntries)
			if len(st.Index.SampleFiles) > 0 {
				fmt.Fprintf(w, "  samples:    %s\n", strings.Join(st.Index.SampleFiles, ", "))
			}
			if st.Index.SnapshotID != "" {
				fmt.Fprintf(w, "  snapshot:   %s (loaded %s)\n", st.Index.SnapshotID, st.Index.LoadedAt.Format("2006-01-02 15:04:05Z07:00"))
			}
		}
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
