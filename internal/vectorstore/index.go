package vectorstore

import (
	"math"
	"slices"
)

// flatIndex is an exhaustive inner-product index over unit vectors stored
// row-major in one slice.
type flatIndex struct {
	dim  int
	data []float32
}

type hit struct {
	pos   int
	score float32
}

func newFlatIndex(dim int) *flatIndex {
	return &flatIndex{dim: dim}
}

func (ix *flatIndex) Len() int {
	if ix.dim == 0 {
		return 0
	}
	return len(ix.data) / ix.dim
}

// withAdded returns a new index holding ix's rows followed by vecs.
// ix is left untouched.
func (ix *flatIndex) withAdded(vecs [][]float32) *flatIndex {
	data := make([]float32, len(ix.data), len(ix.data)+len(vecs)*ix.dim)
	copy(data, ix.data)
	for _, v := range vecs {
		data = append(data, v...)
	}
	return &flatIndex{dim: ix.dim, data: data}
}

// Reconstruct returns a copy of row pos.
func (ix *flatIndex) Reconstruct(pos int) []float32 {
	return slices.Clone(ix.data[pos*ix.dim : (pos+1)*ix.dim])
}

// Search returns the k best rows by descending inner product with q. Equal
// scores keep insertion order.
func (ix *flatIndex) Search(q []float32, k int) []hit {
	n := ix.Len()
	if k <= 0 || n == 0 {
		return nil
	}
	hits := make([]hit, n)
	for i := range n {
		hits[i] = hit{pos: i, score: dot(q, ix.data[i*ix.dim:(i+1)*ix.dim])}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	return hits[:min(k, n)]
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// normalize returns v scaled to unit L2 norm. A zero vector stays zero.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
