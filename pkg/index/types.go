package index

import (
	"fmt"
	"time"

	"github.com/perbu/regrag/pkg/chunker"
)

// EmbeddingData is the persisted form of an index
type EmbeddingData struct {
	Chunks     []chunker.Passage // Document passages
	Embeddings [][]float32       // Corresponding embeddings (same order as Chunks)
	ModelInfo  string            // Model name/version used
	Dimension  int               // Embedding vector dimension
	CreatedAt  time.Time
}

// Result represents a single search result with score
type Result struct {
	Passage chunker.Passage
	Score   float64
}

// Index holds passages and their embeddings, passage[i] ↔ vector[i]. It is
// never modified after construction.
type Index struct {
	passages []chunker.Passage
	vectors  [][]float32
	model    string
	dim      int
}

// New builds an Index, checking that passages and vectors line up and that
// every vector has the same dimension.
func New(passages []chunker.Passage, vectors [][]float32, model string) (*Index, error) {
	if len(passages) == 0 {
		return nil, chunker.ErrEmptyDocument
	}
	if len(passages) != len(vectors) {
		return nil, fmt.Errorf("passages and vectors length mismatch: %d != %d", len(passages), len(vectors))
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("passage 0 has an empty embedding")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: passage %d has %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		if passages[i].Position != i {
			return nil, fmt.Errorf("passage %d has position %d", i, passages[i].Position)
		}
	}

	idx := &Index{
		passages: append([]chunker.Passage(nil), passages...),
		vectors:  make([][]float32, len(vectors)),
		model:    model,
		dim:      dim,
	}
	for i, v := range vectors {
		idx.vectors[i] = append([]float32(nil), v...)
	}
	return idx, nil
}

// LoadIndex creates an Index from its persisted form
func LoadIndex(data *EmbeddingData) (*Index, error) {
	idx, err := New(data.Chunks, data.Embeddings, data.ModelInfo)
	if err != nil {
		return nil, err
	}
	if data.Dimension != 0 && data.Dimension != idx.dim {
		return nil, fmt.Errorf("%w: header says %d, vectors have %d", ErrDimensionMismatch, data.Dimension, idx.dim)
	}
	return idx, nil
}

// Data returns the persisted form of the index. The returned slices are
// copies.
func (x *Index) Data() *EmbeddingData {
	vectors := make([][]float32, len(x.vectors))
	for i, v := range x.vectors {
		vectors[i] = append([]float32(nil), v...)
	}
	return &EmbeddingData{
		Chunks:     append([]chunker.Passage(nil), x.passages...),
		Embeddings: vectors,
		ModelInfo:  x.model,
		Dimension:  x.dim,
	}
}

func (x *Index) Len() int       { return len(x.passages) }
func (x *Index) Model() string  { return x.model }
func (x *Index) Dimension() int { return x.dim }

// Vector returns a copy of the embedding at position i.
func (x *Index) Vector(i int) []float32 {
	return append([]float32(nil), x.vectors[i]...)
}

// Passage returns the passage at position i.
func (x *Index) Passage(i int) chunker.Passage {
	return x.passages[i]
}

// Neighbors returns the passages within n positions of position, in order.
func (x *Index) Neighbors(position, n int) []chunker.Passage {
	if position < 0 || position >= len(x.passages) {
		return nil
	}
	start := position - n
	if start < 0 {
		start = 0
	}
	end := position + n + 1
	if end > len(x.passages) {
		end = len(x.passages)
	}
	return append([]chunker.Passage(nil), x.passages[start:end]...)
}
