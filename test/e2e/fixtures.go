package e2e

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/hyperjump/kagami/internal/vector"
)

// Store file names written by WriteStore.
const (
	IndexFile    = "sample_index.faiss"
	MetadataFile = "sample_metadata.json"
)

// Swatch is a solid-color test image.
type Swatch struct {
	Name  string
	Color color.RGBA
}

// Swatches are indexed through the encoder and searched by image.
var Swatches = []Swatch{
	{"red", color.RGBA{R: 255, A: 255}},
	{"green", color.RGBA{G: 255, A: 255}},
	{"blue", color.RGBA{B: 255, A: 255}},
}

// Phrase is a caption indexed through the encoder and searched by text.
type Phrase struct {
	Filename string
	Text     string
}

// Phrases are the text anchors of the corpus.
var Phrases = []Phrase{
	{"caption_cat.jpg", "a photo of a cat"},
	{"caption_sunset.jpg", "sunset over the ocean"},
}

// SolidJPEG returns a 100x100 image of c as base64 JPEG.
func SolidJPEG(c color.RGBA) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// WriteStore writes the corpus as an L2 flat index and a metadata array into dir.
func WriteStore(dir string, c *Corpus) error {
	idx, err := vector.NewFlatIndex(vector.MetricL2, c.Vectors())
	if err != nil {
		return err
	}
	if err := idx.WriteFile(filepath.Join(dir, IndexFile)); err != nil {
		return err
	}
	meta, err := json.Marshal(c.Filenames())
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), meta, 0o644)
}
