package index

import (
	"fmt"
	"math"
	"sort"
)

// Dot computes the inner product of two vectors of equal length. With
// unit-length embeddings this is the cosine similarity.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// SortResults sorts results by score (descending), then by position
// (ascending). NaN scores rank below every number.
func SortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i].Score, results[j].Score
		if aNaN, bNaN := math.IsNaN(a), math.IsNaN(b); aNaN || bNaN {
			if aNaN && bNaN {
				return results[i].Passage.Position < results[j].Passage.Position
			}
			return bNaN
		}
		if a == b {
			return results[i].Passage.Position < results[j].Passage.Position
		}
		return a > b
	})
}

// Search scores every passage against queryEmbedding and returns the top-k.
// A passage whose score is NaN is ranked last. A positive minScore drops
// results scoring below it, NaN included.
func (x *Index) Search(queryEmbedding []float32, k int, minScore float64) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if len(queryEmbedding) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(queryEmbedding), x.dim)
	}

	results := make([]Result, 0, len(x.passages))
	for i := range x.passages {
		score := Dot(queryEmbedding, x.vectors[i])
		if minScore > 0 && (math.IsNaN(score) || score < minScore) {
			continue
		}
		results = append(results, Result{Passage: x.passages[i], Score: score})
	}

	SortResults(results)

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
