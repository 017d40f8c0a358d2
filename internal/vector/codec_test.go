package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
)

// faissFlatL2Bytes is the byte layout faiss::write_index produces for an
// IndexFlatL2 with d=2 holding {1,2} and {3,4}.
func faissFlatL2Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("IxF2")
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, int32(2))     // d
	_ = binary.Write(&buf, le, int64(2))     // ntotal
	_ = binary.Write(&buf, le, int64(1<<20)) // dummy
	_ = binary.Write(&buf, le, int64(1<<20)) // dummy
	_ = binary.Write(&buf, le, uint8(1))     // is_trained
	_ = binary.Write(&buf, le, int32(1))     // METRIC_L2
	_ = binary.Write(&buf, le, uint64(4))
	_ = binary.Write(&buf, le, []float32{1, 2, 3, 4})
	return buf.Bytes()
}

func TestReadFlat_FaissLayout(t *testing.T) {
	idx, err := ReadFlat(bytes.NewReader(faissFlatL2Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if idx.Dimension() != 2 || idx.Total() != 2 || idx.Metric() != MetricL2 {
		t.Fatalf("unexpected index: d=%d n=%d metric=%v", idx.Dimension(), idx.Total(), idx.Metric())
	}
	if v := idx.Vector(1); v[0] != 3 || v[1] != 4 {
		t.Errorf("Vector(1) = %v", v)
	}

	hits, err := idx.Search(context.Background(), []float32{3, 4}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Label != 1 || hits[0].Distance != 0 {
		t.Errorf("top hit = %+v", hits[0])
	}
	if hits[1].Distance != 8 {
		t.Errorf("squared L2 to {1,2} = %v, want 8", hits[1].Distance)
	}
}

func TestMarshalBinary_MatchesFaissLayout(t *testing.T) {
	idx, err := NewFlatIndex(MetricL2, [][]float32{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := idx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, faissFlatL2Bytes()) {
		t.Errorf("serialized bytes differ from faiss layout\n got %x\nwant %x", got, faissFlatL2Bytes())
	}
}

func TestReadFlat_RoundTripIDMap(t *testing.T) {
	base, err := NewFlatIndex(MetricInnerProduct, [][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := base.WithIDs([]int64{42, 7})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "idx.faiss")
	if err := mapped.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	idx, err := ReadFlatFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Metric() != MetricInnerProduct {
		t.Errorf("metric = %v", idx.Metric())
	}
	hits, err := idx.Search(context.Background(), []float32{0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Label != 7 {
		t.Errorf("label = %d, want 7", hits[0].Label)
	}
}

func TestReadFlat_Unsupported(t *testing.T) {
	data := append([]byte("IwFl"), make([]byte, 64)...)
	_, err := ReadFlat(bytes.NewReader(data))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestReadFlat_Truncated(t *testing.T) {
	data := faissFlatL2Bytes()
	for _, n := range []int{0, 3, 10, len(data) - 1} {
		if _, err := ReadFlat(bytes.NewReader(data[:n])); err == nil {
			t.Errorf("expected error for %d-byte prefix", n)
		}
	}
}

func TestReadFlat_CodesMismatch(t *testing.T) {
	data := faissFlatL2Bytes()
	// ntotal claims 3 vectors, codes still hold 2.
	binary.LittleEndian.PutUint64(data[8:16], 3)
	if _, err := ReadFlat(bytes.NewReader(data)); err == nil {
		t.Error("expected error when codes do not match d*ntotal")
	}
}

func TestReadFlatFile_Missing(t *testing.T) {
	if _, err := ReadFlatFile(filepath.Join(t.TempDir(), "missing.faiss")); err == nil {
		t.Error("expected error for missing file")
	}
}
