package vector

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// ctxCheckEvery is how many rows are scanned between context checks.
const ctxCheckEvery = 4096

// FlatIndex is a brute-force index equivalent to faiss IndexFlatL2/IndexFlatIP,
// optionally wrapped by an IndexIDMap. Safe for concurrent searches.
type FlatIndex struct {
	dimensions int
	metric     Metric
	metricArg  float32
	vectors    []float32 // row-major, len = ntotal*dimensions
	ids        []int64   // optional label mapping (IndexIDMap)
	mu         sync.RWMutex
	closed     bool
}

// NewFlatIndex builds a flat index over vectors. All rows must have the same dimension.
func NewFlatIndex(metric Metric, vectors [][]float32) (*FlatIndex, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors")
	}
	d := len(vectors[0])
	if d <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric != MetricL2 && metric != MetricInnerProduct {
		return nil, fmt.Errorf("unsupported metric %d", metric)
	}
	flat := make([]float32, 0, len(vectors)*d)
	for i, v := range vectors {
		if len(v) != d {
			return nil, fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(v), d)
		}
		flat = append(flat, v...)
	}
	return &FlatIndex{dimensions: d, metric: metric, vectors: flat}, nil
}

// WithIDs returns a copy of the index whose hits report ids[i] instead of position i.
func (f *FlatIndex) WithIDs(ids []int64) (*FlatIndex, error) {
	if len(ids) != f.Total() {
		return nil, fmt.Errorf("id map has %d entries, index has %d vectors", len(ids), f.Total())
	}
	return &FlatIndex{
		dimensions: f.dimensions,
		metric:     f.metric,
		metricArg:  f.metricArg,
		vectors:    f.vectors,
		ids:        slices.Clone(ids),
	}, nil
}

// Search scans every vector and returns the k best hits.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, fmt.Errorf("index is closed")
	}
	n := f.total()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := f.vectors[i*f.dimensions : (i+1)*f.dimensions]
		var dist float32
		if f.metric == MetricL2 {
			dist = SquaredL2(query, row)
		} else {
			dist = InnerProduct(query, row)
		}
		hits[i] = Hit{Label: int64(i), Distance: dist}
	}

	better := f.metric.better
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case better(a.Distance, b.Distance):
			return -1
		case better(b.Distance, a.Distance):
			return 1
		default:
			return 0
		}
	})
	hits = hits[:k]

	if f.ids != nil {
		for i := range hits {
			hits[i].Label = f.ids[hits[i].Label]
		}
	}
	return hits, nil
}

// Vector returns a copy of the stored vector at position i.
func (f *FlatIndex) Vector(i int) []float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i < 0 || i >= f.total() {
		return nil
	}
	return slices.Clone(f.vectors[i*f.dimensions : (i+1)*f.dimensions])
}

// Total returns the number of stored vectors.
func (f *FlatIndex) Total() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.total()
}

func (f *FlatIndex) total() int {
	if f.dimensions == 0 {
		return 0
	}
	return len(f.vectors) / f.dimensions
}

// Dimension returns the vector dimension.
func (f *FlatIndex) Dimension() int { return f.dimensions }

// Metric returns the distance function.
func (f *FlatIndex) Metric() Metric { return f.metric }

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	if f.ids != nil {
		return string(IndexTypeFlat) + "+idmap"
	}
	return string(IndexTypeFlat)
}

// Close releases the vectors. Searches after Close fail.
func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.vectors = nil
	f.ids = nil
	return nil
}

// better reports whether distance a ranks ahead of b. NaN never ranks ahead.
func (m Metric) better(a, b float32) bool {
	if math.IsNaN(float64(a)) {
		return false
	}
	if math.IsNaN(float64(b)) {
		return true
	}
	if m == MetricL2 {
		return a < b
	}
	return a > b
}
