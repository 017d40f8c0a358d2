// Package e2e provides end-to-end tests over a synthetic image corpus served
// from a local content store.
package e2e

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/kagami/internal/embedding"
)

// Dimensions is the embedding size of every corpus vector.
const Dimensions = 512

// Topics name the clusters of the corpus. Each topic owns one axis.
var Topics = []string{
	"cat", "dog", "owl", "car", "boat", "tree", "beach", "city", "bread", "guitar",
}

// ImagesPerTopic is the size of each topic cluster.
const ImagesPerTopic = 10

// spread is the weight of each image's private axis relative to its topic axis.
const spread = 0.3

// Entry is one indexed image.
type Entry struct {
	Filename string
	Topic    string
	Vector   []float32
}

// QueryTestCase is a query vector and the filenames that must fill the top results.
type QueryTestCase struct {
	Description string
	Query       []float32
	Expected    []string
}

// Anchor is an indexed entry whose vector comes from the encoder itself, so
// that image and text searches through the API can find it at rank 1.
type Anchor struct {
	Filename  string
	ImageData string
	Text      string
}

// Corpus holds the indexed entries and the queries checked against them.
type Corpus struct {
	Entries   []Entry
	TestCases []QueryTestCase
	Anchors   []Anchor
}

// BuildCorpus returns the topic clusters followed by the encoder anchors.
// Every vector is unit length.
func BuildCorpus(ctx context.Context, enc *embedding.Adapter) (*Corpus, error) {
	c := &Corpus{}
	private := len(Topics)
	for t, topic := range Topics {
		expected := make([]string, 0, ImagesPerTopic)
		for i := 0; i < ImagesPerTopic; i++ {
			v := make([]float32, Dimensions)
			v[t] = 1
			v[private] = spread
			private++
			normalize(v)
			name := fmt.Sprintf("%s_%03d.jpg", topic, i)
			c.Entries = append(c.Entries, Entry{Filename: name, Topic: topic, Vector: v})
			expected = append(expected, name)
		}
		q := make([]float32, Dimensions)
		q[t] = 1
		c.TestCases = append(c.TestCases, QueryTestCase{
			Description: "topic " + topic,
			Query:       q,
			Expected:    expected,
		})
	}

	for _, sw := range Swatches {
		data, err := SolidJPEG(sw.Color)
		if err != nil {
			return nil, err
		}
		img, err := embedding.DecodeBase64Image(data)
		if err != nil {
			return nil, err
		}
		vec, _, err := enc.EmbedImage(ctx, img)
		if err != nil {
			return nil, err
		}
		name := sw.Name + ".jpg"
		c.Entries = append(c.Entries, Entry{Filename: name, Topic: "swatch", Vector: vec})
		c.Anchors = append(c.Anchors, Anchor{Filename: name, ImageData: data})
	}

	for _, phrase := range Phrases {
		vec, _, err := enc.EmbedText(ctx, phrase.Text)
		if err != nil {
			return nil, err
		}
		c.Entries = append(c.Entries, Entry{Filename: phrase.Filename, Topic: "caption", Vector: vec})
		c.Anchors = append(c.Anchors, Anchor{Filename: phrase.Filename, Text: phrase.Text})
	}
	return c, nil
}

// Filenames returns the metadata array in index order.
func (c *Corpus) Filenames() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Filename
	}
	return out
}

// Vectors returns the index rows in order.
func (c *Corpus) Vectors() [][]float32 {
	out := make([][]float32, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Vector
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
