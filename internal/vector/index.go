// Package vector provides read-only nearest-neighbor indexes loaded from
// serialized FAISS files.
package vector

import "context"

// Metric is the distance function of an index. Values match faiss::MetricType.
type Metric int32

const (
	// MetricInnerProduct ranks by descending inner product.
	MetricInnerProduct Metric = 0
	// MetricL2 ranks by ascending squared Euclidean distance.
	MetricL2 Metric = 1
)

// String returns the metric name reported by index info.
func (m Metric) String() string {
	switch m {
	case MetricInnerProduct:
		return "inner_product"
	case MetricL2:
		return "l2"
	default:
		return "unknown"
	}
}

// Hit is one neighbor returned by Search. Label is the vector's position in the
// index (or its mapped id) and -1 when the index padded the result.
type Hit struct {
	Label    int64
	Distance float32
}

// Index is a loaded, immutable nearest-neighbor index.
type Index interface {
	// Search returns up to k hits ordered best first.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Total() int
	Dimension() int
	Metric() Metric
	Type() string
	Close() error
}
