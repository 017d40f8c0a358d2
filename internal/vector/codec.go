package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// FAISS index file fourccs handled by the pure-Go reader.
const (
	fourccFlatIP     = "IxFI"
	fourccFlatL2     = "IxF2"
	fourccFlatLegacy = "IxFl"
	fourccIDMap      = "IxMp"
	fourccIDMap2     = "IxM2"
)

// headerDummy is the value faiss writes into the two unused header slots.
const headerDummy int64 = 1 << 20

// maxVectorFloats bounds a single code vector to keep corrupt headers from
// triggering huge allocations (16 GiB of float32).
const maxVectorFloats = 1 << 32

// ErrUnsupportedFormat means the file is a valid FAISS index of a type the
// pure-Go reader does not handle.
var ErrUnsupportedFormat = errors.New("unsupported faiss index type")

// ReadFlatFile opens a serialized FAISS flat index from disk.
func ReadFlatFile(path string) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()
	return ReadFlat(bufio.NewReader(f))
}

// ReadFlat decodes a FAISS IndexFlat (IxF2, IxFI, IxFl) or an IndexIDMap
// (IxMp, IxM2) wrapping one, as written by faiss::write_index.
func ReadFlat(r io.Reader) (*FlatIndex, error) {
	fourcc, err := readFourCC(r)
	if err != nil {
		return nil, err
	}
	switch fourcc {
	case fourccFlatIP, fourccFlatL2, fourccFlatLegacy:
		return readFlatBody(r, fourcc)
	case fourccIDMap, fourccIDMap2:
		hdr, err := readHeader(r)
		if err != nil {
			return nil, err
		}
		inner, err := ReadFlat(r)
		if err != nil {
			return nil, fmt.Errorf("idmap sub-index: %w", err)
		}
		ids, err := readInt64Vector(r)
		if err != nil {
			return nil, fmt.Errorf("idmap labels: %w", err)
		}
		if int64(len(ids)) != hdr.ntotal {
			return nil, fmt.Errorf("idmap has %d labels, header says %d", len(ids), hdr.ntotal)
		}
		return inner.WithIDs(ids)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, fourcc)
	}
}

type indexHeader struct {
	d         int32
	ntotal    int64
	trained   bool
	metric    Metric
	metricArg float32
}

func readFlatBody(r io.Reader, fourcc string) (*FlatIndex, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	switch fourcc {
	case fourccFlatIP:
		hdr.metric = MetricInnerProduct
	case fourccFlatL2:
		hdr.metric = MetricL2
	}
	if hdr.metric != MetricL2 && hdr.metric != MetricInnerProduct {
		return nil, fmt.Errorf("%w: flat index with metric %d", ErrUnsupportedFormat, hdr.metric)
	}

	codes, err := readFloat32Vector(r)
	if err != nil {
		return nil, fmt.Errorf("codes: %w", err)
	}
	if int64(len(codes)) != int64(hdr.d)*hdr.ntotal {
		return nil, fmt.Errorf("codes hold %d floats, expected %d x %d", len(codes), hdr.ntotal, hdr.d)
	}
	return &FlatIndex{
		dimensions: int(hdr.d),
		metric:     hdr.metric,
		metricArg:  hdr.metricArg,
		vectors:    codes,
	}, nil
}

func readFourCC(r io.Reader) (string, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("read fourcc: %w", err)
	}
	return string(b[:]), nil
}

func readHeader(r io.Reader) (indexHeader, error) {
	var raw struct {
		D       int32
		NTotal  int64
		Dummy1  int64
		Dummy2  int64
		Trained uint8
		Metric  int32
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return indexHeader{}, fmt.Errorf("read header: %w", err)
	}
	if raw.D <= 0 {
		return indexHeader{}, fmt.Errorf("invalid dimension %d", raw.D)
	}
	if raw.NTotal < 0 {
		return indexHeader{}, fmt.Errorf("invalid ntotal %d", raw.NTotal)
	}
	hdr := indexHeader{
		d:       raw.D,
		ntotal:  raw.NTotal,
		trained: raw.Trained != 0,
		metric:  Metric(raw.Metric),
	}
	if raw.Metric > 1 {
		if err := binary.Read(r, binary.LittleEndian, &hdr.metricArg); err != nil {
			return indexHeader{}, fmt.Errorf("read metric arg: %w", err)
		}
	}
	return hdr, nil
}

func readCount(r io.Reader) (uint64, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, fmt.Errorf("read length: %w", err)
	}
	if n > maxVectorFloats {
		return 0, fmt.Errorf("vector length %d exceeds limit", n)
	}
	return n, nil
}

func readFloat32Vector(r io.Reader) ([]float32, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("read %d floats: %w", n, err)
	}
	return out, nil
}

func readInt64Vector(r io.Reader) ([]int64, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("read %d labels: %w", n, err)
	}
	return out, nil
}

// MarshalBinary encodes the index in the faiss::write_index layout, readable
// by both ReadFlat and the native FAISS library.
func (f *FlatIndex) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("index is closed")
	}

	var buf bytes.Buffer
	if f.ids != nil {
		buf.WriteString(fourccIDMap)
		f.writeHeader(&buf)
	}
	if f.metric == MetricInnerProduct {
		buf.WriteString(fourccFlatIP)
	} else {
		buf.WriteString(fourccFlatL2)
	}
	f.writeHeader(&buf)
	writeLE(&buf, uint64(len(f.vectors)))
	writeLE(&buf, f.vectors)
	if f.ids != nil {
		writeLE(&buf, uint64(len(f.ids)))
		writeLE(&buf, f.ids)
	}
	return buf.Bytes(), nil
}

// WriteFile writes the serialized index to path.
func (f *FlatIndex) WriteFile(path string) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (f *FlatIndex) writeHeader(buf *bytes.Buffer) {
	writeLE(buf, int32(f.dimensions))
	writeLE(buf, int64(f.total()))
	writeLE(buf, headerDummy)
	writeLE(buf, headerDummy)
	writeLE(buf, uint8(1))
	writeLE(buf, int32(f.metric))
	if f.metric > 1 {
		writeLE(buf, f.metricArg)
	}
}

// writeLE cannot fail on a bytes.Buffer with fixed-size data.
func writeLE(buf *bytes.Buffer, v any) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}
