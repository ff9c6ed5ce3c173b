// Package crf implements a linear-chain Conditional Random Field over
// a constrained state graph: indexed examples, weight encoding, the
// log-likelihood training objective, and a Viterbi/max-token tagger.
package crf

import (
	"fmt"

	"github.com/codeaudit/ml-1/linalg"
	"github.com/codeaudit/ml-1/sequences"
)

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrUnlabeledExample = Error("crf: labeled example required")
	ErrIllegalGoldPath  = Error("crf: gold labels use an illegal transition")
)

// StartState and StopState are the sentinel labels framing every
// string-labeled sequence.
const (
	StartState = "<s>"
	StopState  = "</s>"
)

// IndexedExample is an observation sequence compiled into sparse
// predicate activations: node predicates attach to the state at each
// position, edge predicates to the transition leaving it. Positions
// include the start and stop sentinels, so the sequence length is the
// observation count plus two.
type IndexedExample struct {
	nodePreds []*linalg.Sparse
	edgePreds []*linalg.Sparse
	gold      []int
}

// NewIndexedExample builds an example from per-position node
// predicates, per-edge edge predicates (one fewer than positions), and
// optional gold state indices (nil for unlabeled input). Nil predicate
// slots are treated as empty.
func NewIndexedExample(nodePreds, edgePreds []*linalg.Sparse, gold []int) (*IndexedExample, error) {
	if len(nodePreds) < 2 {
		return nil, fmt.Errorf("%w: sequence length %d, need at least 2", sequences.ErrDimension, len(nodePreds))
	}
	if len(edgePreds) != len(nodePreds)-1 {
		return nil, fmt.Errorf("%w: %d edge predicate slots for %d positions",
			sequences.ErrDimension, len(edgePreds), len(nodePreds))
	}
	if gold != nil && len(gold) != len(nodePreds) {
		return nil, fmt.Errorf("%w: %d gold labels for %d positions",
			sequences.ErrDimension, len(gold), len(nodePreds))
	}
	ex := &IndexedExample{
		nodePreds: make([]*linalg.Sparse, len(nodePreds)),
		edgePreds: make([]*linalg.Sparse, len(edgePreds)),
		gold:      gold,
	}
	for i, sv := range nodePreds {
		if sv == nil {
			sv = linalg.NewSparse(0)
		}
		ex.nodePreds[i] = sv
	}
	for i, sv := range edgePreds {
		if sv == nil {
			sv = linalg.NewSparse(0)
		}
		ex.edgePreds[i] = sv
	}
	return ex, nil
}

// SequenceLength returns the number of positions including sentinels.
func (ex *IndexedExample) SequenceLength() int { return len(ex.nodePreds) }

// Labeled reports whether the example carries gold labels.
func (ex *IndexedExample) Labeled() bool { return ex.gold != nil }

// GoldLabels returns the gold state indices, or nil for unlabeled
// input. The slice must not be modified.
func (ex *IndexedExample) GoldLabels() []int { return ex.gold }

// NodePredicates returns a restartable iterator over the node
// predicate activations at position i.
func (ex *IndexedExample) NodePredicates(i int) linalg.Iterator { return ex.nodePreds[i].Iter() }

// EdgePredicates returns a restartable iterator over the edge
// predicate activations for the transition from position i to i+1.
func (ex *IndexedExample) EdgePredicates(i int) linalg.Iterator { return ex.edgePreds[i].Iter() }
