package vector

import "fmt"

// IndexType identifies the reader used to open a serialized index.
type IndexType string

const (
	// IndexTypeAuto uses FAISS when compiled in, the pure-Go flat reader otherwise.
	IndexTypeAuto IndexType = "auto"
	// IndexTypeFlat is the pure-Go reader for FAISS flat and IDMap-over-flat files.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS uses the native FAISS library and reads any index type.
	// Requires the FAISS C library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// Open reads the index file at path with the given backend ("auto", "flat", "faiss").
func Open(path string, backend string) (Index, error) {
	switch IndexType(backend) {
	case IndexTypeAuto, "":
		if IsFAISSAvailable() {
			return openFAISS(path)
		}
		return openFlat(path)
	case IndexTypeFlat:
		return openFlat(path)
	case IndexTypeFAISS:
		return openFAISS(path)
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: auto, flat, faiss)", backend)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	return faissCompiled
}

func openFlat(path string) (Index, error) {
	idx, err := ReadFlatFile(path)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func openFAISS(path string) (Index, error) {
	idx, err := OpenFAISS(path)
	if err != nil {
		return nil, err
	}
	return idx, nil
}
