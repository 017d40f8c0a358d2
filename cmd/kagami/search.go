package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/kagami/internal/cli"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/spf13/cobra"
)

type searchFlags struct {
	text      string
	image     string
	embedding string
	topK      int
	server    string
	output    string
	timeout   time.Duration
}

func newSearchCmd() *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search [flags] [text...]",
		Short: "Search the index by text, image or embedding",
		Long: `Search the index with exactly one query: a text phrase (remaining
arguments joined by spaces), --image with a picture file, or --embedding
with a JSON array file. --text may replace the text arguments. Runs in-process unless --server is given.`,
		Example: `  kagami search a photo of a cat
  kagami search --image ./cat.jpg --top-k 5 --output compact
  kagami search --server http://localhost:8001 --embedding query.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.text, "text", "", "text phrase to search with")
	cmd.Flags().StringVar(&f.image, "image", "", "image file to search with")
	cmd.Flags().StringVar(&f.embedding, "embedding", "", "JSON file holding a query embedding array")
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "number of results (default search.default_top_k)")
	cmd.Flags().StringVar(&f.server, "server", "", "query a running server at this URL instead of in-process")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "output format: text, compact, json")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Minute, "overall deadline for the search")
	return cmd
}

// query is the one search input a command line selects.
type query struct {
	text      string
	imageData string
	embedding []float32
}

func buildQuery(args []string, f searchFlags) (query, error) {
	var q query
	q.text = strings.TrimSpace(strings.Join(args, " "))
	given := 0
	if q.text != "" {
		given++
	}
	if f.text != "" {
		q.text = f.text
		given++
	}
	if f.image != "" {
		given++
	}
	if f.embedding != "" {
		given++
	}
	if given != 1 {
		return q, errors.New("provide exactly one of: text arguments, --image, --embedding")
	}

	switch {
	case f.image != "":
		data, err := os.ReadFile(f.image)
		if err != nil {
			return q, fmt.Errorf("reading image: %w", err)
		}
		q.imageData = base64.StdEncoding.EncodeToString(data)
	case f.embedding != "":
		data, err := os.ReadFile(f.embedding)
		if err != nil {
			return q, fmt.Errorf("reading embedding: %w", err)
		}
		var vec []float64
		if err := json.Unmarshal(data, &vec); err != nil {
			return q, fmt.Errorf("parsing embedding: %w", err)
		}
		q.embedding = models.ToFloat32(vec)
	}
	return q, nil
}

// searcher is satisfied by both the remote client and the in-process service.
type searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) (*models.SearchResponse, error)
	SearchImage(ctx context.Context, imageData string, topK int) (*models.SearchResponse, error)
	SearchText(ctx context.Context, text string, topK int) (*models.SearchResponse, error)
}

func (q query) run(ctx context.Context, s searcher, topK int) (*models.SearchResponse, error) {
	switch {
	case q.embedding != nil:
		return s.Search(ctx, q.embedding, topK)
	case q.imageData != "":
		return s.SearchImage(ctx, q.imageData, topK)
	default:
		return s.SearchText(ctx, q.text, topK)
	}
}

func runSearch(cmd *cobra.Command, args []string, f searchFlags) error {
	format, err := cli.ParseOutputFormat(f.output)
	if err != nil {
		return err
	}
	q, err := buildQuery(args, f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	var s searcher
	if f.server != "" {
		s = cli.NewClient(f.server, f.timeout)
	} else {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger, err := newQuietLogger(cfg)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()
		c := wire(cfg, logger, nil)
		defer c.Close()
		s = c.service
	}

	resp, err := q.run(ctx, s, f.topK)
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
}
