package search

import (
	"fmt"
	"strings"
	"unicode/utf8"

	kerr "github.com/hyperjump/kagami/pkg/errors"
	"github.com/hyperjump/kagami/pkg/utils"
)

// validateEmbedding rejects queries of the wrong size or with NaN/Inf components.
func validateEmbedding(query []float32, dimensions int) error {
	if len(query) != dimensions {
		return kerr.New(kerr.CodeRequestInvalid,
			fmt.Sprintf("Embedding must be %d-dimensional, got %d", dimensions, len(query)),
			kerr.Field("dimension", len(query)))
	}
	if !utils.AllFinite(query) {
		return kerr.New(kerr.CodeRequestInvalid, "Embedding contains invalid values (NaN or Inf)")
	}
	return nil
}

// validateText requires 1..maxLen characters.
func validateText(text string, maxLen int) error {
	n := utf8.RuneCountInString(text)
	if n == 0 || (maxLen > 0 && n > maxLen) {
		return kerr.New(kerr.CodeRequestInvalid,
			fmt.Sprintf("Text must be between 1 and %d characters", maxLen),
			kerr.Field("length", n))
	}
	return nil
}

// resolveTopK applies the default and the upper clamp.
func resolveTopK(topK, defaultTopK, maxTopK int) int {
	if topK <= 0 {
		topK = defaultTopK
	}
	if maxTopK > 0 && topK > maxTopK {
		topK = maxTopK
	}
	return topK
}

// joinFilepath renders "<prefix>/<filename>".
func joinFilepath(prefix, filename string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + filename
}
