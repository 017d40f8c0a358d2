//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"fmt"
)

const faissCompiled = false

// errFAISSUnavailable is returned by every FAISSIndex operation in this build.
var errFAISSUnavailable = fmt.Errorf("FAISS not available: build with -tags=faiss and install the FAISS C library")

// FAISSIndex is a stub that returns an error when FAISS is not available.
type FAISSIndex struct{}

// OpenFAISS returns an error because FAISS is not available.
func OpenFAISS(path string) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

// Search is not implemented without FAISS.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	return nil, errFAISSUnavailable
}

// Total returns 0 without FAISS.
func (f *FAISSIndex) Total() int { return 0 }

// Dimension returns 0 without FAISS.
func (f *FAISSIndex) Dimension() int { return 0 }

// Metric returns the zero metric without FAISS.
func (f *FAISSIndex) Metric() Metric { return MetricInnerProduct }

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string { return string(IndexTypeFAISS) }

// Close is a no-op without FAISS.
func (f *FAISSIndex) Close() error { return nil }
