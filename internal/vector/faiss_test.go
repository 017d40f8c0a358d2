//go:build faiss && cgo
// +build faiss,cgo

package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFAISSIndex_ReadsFlatFixture(t *testing.T) {
	flat, err := NewFlatIndex(MetricL2, [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "idx.faiss")
	if err := flat.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	idx, err := OpenFAISS(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if idx.Total() != 3 || idx.Dimension() != 3 || idx.Metric() != MetricL2 {
		t.Fatalf("unexpected index: n=%d d=%d metric=%v", idx.Total(), idx.Dimension(), idx.Metric())
	}

	ctx := context.Background()
	got, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	want, err := flat.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i].Label != want[i].Label {
			t.Errorf("hit %d: native label %d, pure-Go label %d", i, got[i].Label, want[i].Label)
		}
	}
}

func TestFAISSIndex_PadsWhenKExceedsTotal(t *testing.T) {
	flat, err := NewFlatIndex(MetricL2, [][]float32{{1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "idx.faiss")
	if err := flat.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	idx, err := OpenFAISS(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 || hits[1].Label != -1 {
		t.Errorf("expected padding labels, got %+v", hits)
	}
}

func TestFAISSIndex_DimensionMismatch(t *testing.T) {
	flat, _ := NewFlatIndex(MetricL2, [][]float32{{1, 0, 0}})
	path := filepath.Join(t.TempDir(), "idx.faiss")
	if err := flat.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	idx, err := OpenFAISS(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, err := idx.Search(context.Background(), []float32{1, 0}, 1); err == nil {
		t.Error("expected error for dimension mismatch on Search")
	}
}

func TestOpenFAISS_MissingFile(t *testing.T) {
	if _, err := OpenFAISS("/nonexistent/path/index.faiss"); err == nil {
		t.Error("expected error for missing file")
	}
}
