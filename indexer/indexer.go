// Package indexer provides an immutable bijection between distinct
// elements and dense integer indices.
package indexer

import (
	"io"

	"github.com/codeaudit/ml-1/internal/dataio"
)

const dataVersion = "1.0"

// Indexer is an ordered collection of distinct elements with O(1)
// index-to-element and element-to-index lookup. It is immutable after
// construction; indices form the dense range [0, Size).
type Indexer[T comparable] struct {
	elems []T
	index map[T]int
}

// Of builds an Indexer from elems. The first occurrence of each
// distinct element fixes its index; later duplicates are ignored.
func Of[T comparable](elems []T) *Indexer[T] {
	ix := &Indexer[T]{index: make(map[T]int, len(elems))}
	for _, e := range elems {
		if _, ok := ix.index[e]; ok {
			continue
		}
		ix.index[e] = len(ix.elems)
		ix.elems = append(ix.elems, e)
	}
	return ix
}

// Size returns the number of indexed elements.
func (ix *Indexer[T]) Size() int {
	return len(ix.elems)
}

// Get returns the element at index i. It panics if i is out of range.
func (ix *Indexer[T]) Get(i int) T {
	return ix.elems[i]
}

// IndexOf returns the index of x, or -1 if x is not present. Callers
// must not treat -1 as index 0.
func (ix *Indexer[T]) IndexOf(x T) int {
	if i, ok := ix.index[x]; ok {
		return i
	}
	return -1
}

// Contains reports whether x is indexed.
func (ix *Indexer[T]) Contains(x T) bool {
	_, ok := ix.index[x]
	return ok
}

// Elements returns the elements in index order. The returned slice is
// a copy.
func (ix *Indexer[T]) Elements() []T {
	out := make([]T, len(ix.elems))
	copy(out, ix.elems)
	return out
}

// Save writes a string indexer as a version tag followed by the
// elements in index order. Persistence is limited to string indexers;
// other element types do not round-trip through their string form.
func Save(w io.Writer, ix *Indexer[string]) error {
	if err := dataio.WriteUTF(w, dataVersion); err != nil {
		return err
	}
	return dataio.WriteStringList(w, ix.elems)
}

// Load restores an indexer written by Save. It fails with
// dataio.ErrVersionMismatch if the stream carries a different version.
func Load(r io.Reader) (*Indexer[string], error) {
	if err := dataio.EnsureVersionMatch(r, dataVersion); err != nil {
		return nil, err
	}
	elems, err := dataio.ReadStringList(r)
	if err != nil {
		return nil, err
	}
	return Of(elems), nil
}
