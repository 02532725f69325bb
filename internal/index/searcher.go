// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"fmt"
	"sort"
)

// Neighbor is one nearest-neighbour result: squared L2 distance to the
// query and the ordinal of the stored vector.
type Neighbor struct {
	Distance float64
	Ordinal  int
}

// Searcher is the nearest-neighbour primitive behind the index. Ordinals
// are assigned in Add order starting at zero.
type Searcher interface {
	Add(vec []float32) error
	Search(vec []float32, k int) []Neighbor
	Len() int
}

// FlatL2 is an exhaustive squared-L2 searcher. Results are ordered by
// ascending distance with ties broken by ordinal.
type FlatL2 struct {
	dims int
	vecs [][]float32
}

// NewFlatL2 returns an empty searcher. Its dimensionality is fixed by the
// first Add.
func NewFlatL2() *FlatL2 {
	return &FlatL2{}
}

// Add appends vec at the next ordinal.
func (f *FlatL2) Add(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector")
	}
	if f.dims == 0 {
		f.dims = len(vec)
	}
	if len(vec) != f.dims {
		return fmt.Errorf("vector has %d dimensions, index has %d", len(vec), f.dims)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	f.vecs = append(f.vecs, cp)
	return nil
}

// Search returns up to k nearest vectors. A query of the wrong
// dimensionality matches nothing.
func (f *FlatL2) Search(vec []float32, k int) []Neighbor {
	if k <= 0 || len(f.vecs) == 0 || len(vec) != f.dims {
		return nil
	}
	out := make([]Neighbor, len(f.vecs))
	for i, v := range f.vecs {
		out[i] = Neighbor{Distance: squaredL2(vec, v), Ordinal: i}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Len returns the number of stored vectors.
func (f *FlatL2) Len() int { return len(f.vecs) }

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
