package crf

import (
	"fmt"

	"github.com/codeaudit/ml-1/linalg"
	"github.com/codeaudit/ml-1/sequences"
)

// WeightsEncoder maps (predicate, state) and (predicate, transition)
// pairs to positions in a flat weight vector and materializes the
// log-potential matrix for an example.
//
// Weight layout: node weights first, predicate-major
// (predicate*numStates + state), then edge weights
// (predicate*numTransitions + transition) after the node block.
type WeightsEncoder[S comparable] struct {
	stateSpace *sequences.StateSpace[S]
	numNode    int
	numEdge    int
}

// NewWeightsEncoder returns an encoder for the given state space and
// predicate vocabulary sizes.
func NewWeightsEncoder[S comparable](ss *sequences.StateSpace[S], numNodePredicates, numEdgePredicates int) *WeightsEncoder[S] {
	return &WeightsEncoder[S]{stateSpace: ss, numNode: numNodePredicates, numEdge: numEdgePredicates}
}

// StateSpace returns the state space the encoder is bound to.
func (e *WeightsEncoder[S]) StateSpace() *sequences.StateSpace[S] { return e.stateSpace }

// NumWeights returns the required weight vector dimension.
func (e *WeightsEncoder[S]) NumWeights() int {
	return e.nodeBlockSize() + e.numEdge*e.stateSpace.NumTransitions()
}

func (e *WeightsEncoder[S]) nodeBlockSize() int {
	return e.numNode * e.stateSpace.States().Size()
}

// NodeWeightIndex returns the weight index coupling a node predicate
// with a state.
func (e *WeightsEncoder[S]) NodeWeightIndex(predicate, state int) int {
	return predicate*e.stateSpace.States().Size() + state
}

// EdgeWeightIndex returns the weight index coupling an edge predicate
// with a transition.
func (e *WeightsEncoder[S]) EdgeWeightIndex(predicate, transition int) int {
	return e.nodeBlockSize() + predicate*e.stateSpace.NumTransitions() + transition
}

// FillPotentials computes the log-potential matrix for an example
// under params: pot[i][t] is the score of transition t occupying
// positions i and i+1, the node predicates at i coupled with the
// transition's source state plus the edge predicates at i coupled with
// the transition itself.
func (e *WeightsEncoder[S]) FillPotentials(params linalg.Vector, ex *IndexedExample) ([][]float64, error) {
	if params.Dim() != e.NumWeights() {
		return nil, fmt.Errorf("%w: weight vector has dimension %d, encoder needs %d",
			sequences.ErrDimension, params.Dim(), e.NumWeights())
	}
	numStates := e.stateSpace.States().Size()
	numTrans := e.stateSpace.NumTransitions()
	length := ex.SequenceLength()

	pot := make([][]float64, length-1)
	nodeScores := make([]float64, numStates)
	edgeScores := make([]float64, numTrans)
	for i := range length - 1 {
		for s := range numStates {
			nodeScores[s] = 0
		}
		nodeIt := ex.NodePredicates(i)
		for nodeIt.Reset(); !nodeIt.IsExhausted(); nodeIt.Advance() {
			p, v := nodeIt.Index(), nodeIt.Value()
			if p >= e.numNode {
				return nil, fmt.Errorf("%w: node predicate %d outside vocabulary of %d",
					sequences.ErrDimension, p, e.numNode)
			}
			for s := range numStates {
				nodeScores[s] += v * params.At(e.NodeWeightIndex(p, s))
			}
		}
		for t := range numTrans {
			edgeScores[t] = 0
		}
		edgeIt := ex.EdgePredicates(i)
		for edgeIt.Reset(); !edgeIt.IsExhausted(); edgeIt.Advance() {
			p, v := edgeIt.Index(), edgeIt.Value()
			if p >= e.numEdge {
				return nil, fmt.Errorf("%w: edge predicate %d outside vocabulary of %d",
					sequences.ErrDimension, p, e.numEdge)
			}
			for t := range numTrans {
				edgeScores[t] += v * params.At(e.EdgeWeightIndex(p, t))
			}
		}
		row := make([]float64, numTrans)
		for _, t := range e.stateSpace.Transitions() {
			row[t.SelfIndex] = nodeScores[t.From] + edgeScores[t.SelfIndex]
		}
		pot[i] = row
	}
	return pot, nil
}
