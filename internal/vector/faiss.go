//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

const faissCompiled = true

// FAISSIndex wraps any index readable by faiss::read_index (flat, IVF, HNSW, PQ...).
// Searches hold a read lock on the handle; Close takes the write lock.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	ntotal     int
	metric     Metric
	mu         sync.RWMutex
}

// OpenFAISS reads a serialized index from path with the native library.
func OpenFAISS(path string) (*FAISSIndex, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var index *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &index); ret != 0 {
		return nil, fmt.Errorf("failed to read FAISS index: %s", faissLastError())
	}

	return &FAISSIndex{
		index:      index,
		dimensions: int(C.faiss_Index_d(index)),
		ntotal:     int(C.faiss_Index_ntotal(index)),
		metric:     Metric(C.faiss_Index_metric_type(index)),
	}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Search runs a single-query faiss search. Padded results carry label -1.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.index == nil {
		return nil, fmt.Errorf("index is closed")
	}
	if k <= 0 || f.ntotal == 0 {
		return nil, nil
	}

	distances := make([]float32, k)
	labels := make([]int64, k)

	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, k)
	for i := range hits {
		hits[i] = Hit{Label: labels[i], Distance: distances[i]}
	}
	return hits, nil
}

// Total returns ntotal as read at open time.
func (f *FAISSIndex) Total() int { return f.ntotal }

// Dimension returns the index dimension.
func (f *FAISSIndex) Dimension() int { return f.dimensions }

// Metric returns the index metric.
func (f *FAISSIndex) Metric() Metric { return f.metric }

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string { return string(IndexTypeFAISS) }

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
