package linalg

import "sort"

// Sparse is a sparse float64 vector stored as parallel index/value
// slices with ascending, unique indices.
type Sparse struct {
	indices []int
	values  []float64
	dim     int
}

// NewSparse creates an empty sparse vector with the given dimension.
func NewSparse(dim int) *Sparse {
	return &Sparse{dim: dim}
}

// SparseFromMap builds a sparse vector from index->value entries,
// sorted by index. Zero values are kept as provided.
func SparseFromMap(dim int, entries map[int]float64) *Sparse {
	sv := &Sparse{
		indices: make([]int, 0, len(entries)),
		values:  make([]float64, 0, len(entries)),
		dim:     dim,
	}
	for idx := range entries {
		sv.indices = append(sv.indices, idx)
	}
	sort.Ints(sv.indices)
	for _, idx := range sv.indices {
		sv.values = append(sv.values, entries[idx])
	}
	return sv
}

// Append adds an entry with an index greater than all existing ones.
// It panics if the ascending-index invariant would be violated.
func (sv *Sparse) Append(idx int, val float64) {
	if n := len(sv.indices); n > 0 && idx <= sv.indices[n-1] {
		panic("linalg: sparse indices must be appended in ascending order")
	}
	sv.indices = append(sv.indices, idx)
	sv.values = append(sv.values, val)
}

// Dim returns the vector dimension.
func (sv *Sparse) Dim() int { return sv.dim }

// Nnz returns the number of stored entries.
func (sv *Sparse) Nnz() int { return len(sv.indices) }

// Dot computes the dot product with a dense vector.
func (sv *Sparse) Dot(dense []float64) float64 {
	var sum float64
	for i, idx := range sv.indices {
		sum += sv.values[i] * dense[idx]
	}
	return sum
}

// Iter returns a restartable iterator over the entries in ascending
// index order.
func (sv *Sparse) Iter() Iterator {
	return &sparseIter{sv: sv}
}

type sparseIter struct {
	sv  *Sparse
	pos int
}

func (it *sparseIter) IsExhausted() bool { return it.pos >= len(it.sv.indices) }
func (it *sparseIter) Index() int        { return it.sv.indices[it.pos] }
func (it *sparseIter) Value() float64    { return it.sv.values[it.pos] }
func (it *sparseIter) Advance()          { it.pos++ }
func (it *sparseIter) Reset()            { it.pos = 0 }
