// Package fake provides a deterministic offline embedder for tests and demos.
package fake

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/smallnest/ragbridge/rag"
)

// Embedder derives a unit vector from the characters of the text. Equal
// texts always map to equal vectors.
type Embedder struct {
	Dimension int

	calls atomic.Int64
	texts atomic.Int64
}

var _ rag.Embedder = (*Embedder)(nil)

// New creates an Embedder producing vectors of the given dimension.
func New(dimension int) *Embedder {
	return &Embedder{Dimension: dimension}
}

// EmbedQuery implements rag.Embedder.
func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.texts.Add(1)
	return e.vector(text), nil
}

// EmbedDocuments implements rag.Embedder.
func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

// Calls returns how many Embed calls were made.
func (e *Embedder) Calls() int { return int(e.calls.Load()) }

// Texts returns how many texts were embedded in total.
func (e *Embedder) Texts() int { return int(e.texts.Load()) }

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.Dimension)
	for i := range v {
		var sum float64
		for j, char := range text {
			sum += float64(char) * float64(i+j+1)
		}
		v[i] = float32(math.Sin(sum / 1000.0))
	}

	var norm float32
	for _, x := range v {
		norm += x * x
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}
