package crf

import (
	"fmt"

	"github.com/codeaudit/ml-1/linalg"
	"github.com/codeaudit/ml-1/sequences"
)

// LogLikelihoodObjective computes a labeled example's contribution to
// the conditional log-likelihood and its gradient. The value is to be
// maximized; minimizing callers negate both value and gradient.
type LogLikelihoodObjective[S comparable] struct {
	encoder *WeightsEncoder[S]
	fb      *sequences.ForwardBackwards[S]
}

// NewLogLikelihoodObjective returns an objective over the encoder's
// state space.
func NewLogLikelihoodObjective[S comparable](encoder *WeightsEncoder[S]) *LogLikelihoodObjective[S] {
	return &LogLikelihoodObjective[S]{
		encoder: encoder,
		fb:      sequences.NewForwardBackwards(encoder.StateSpace()),
	}
}

// Evaluate returns log p(gold | observation) under params and adds the
// example's gradient contribution to grad: observed feature counts
// along the gold path minus expected counts under the current model.
// Accumulation order is fixed (positions ascending, predicates in
// iterator order, states and transitions in index order) so identical
// inputs produce bit-identical results.
func (o *LogLikelihoodObjective[S]) Evaluate(ex *IndexedExample, params, grad linalg.Vector) (float64, error) {
	if !ex.Labeled() {
		return 0, ErrUnlabeledExample
	}
	ss := o.encoder.StateSpace()
	gold := ex.GoldLabels()
	length := ex.SequenceLength()
	if gold[0] != ss.StartStateIndex() || gold[length-1] != ss.StopStateIndex() {
		return 0, fmt.Errorf("%w: gold path must begin at the start state and end at the stop state",
			ErrIllegalGoldPath)
	}

	pot, err := o.encoder.FillPotentials(params, ex)
	if err != nil {
		return 0, err
	}
	res, err := o.fb.Compute(pot)
	if err != nil {
		return 0, err
	}

	// Gold contribution: transition scores along the gold path and the
	// observed feature counts.
	logNumerator := 0.0
	for i := range length - 1 {
		from, to := gold[i], gold[i+1]
		trans, ok := ss.TransitionFor(from, to)
		if !ok {
			states := ss.States()
			return 0, fmt.Errorf("%w: %v -> %v", ErrIllegalGoldPath, states.Get(from), states.Get(to))
		}
		logNumerator += pot[i][trans.SelfIndex]

		nodeIt := ex.NodePredicates(i)
		for nodeIt.Reset(); !nodeIt.IsExhausted(); nodeIt.Advance() {
			grad.Inc(o.encoder.NodeWeightIndex(nodeIt.Index(), from), nodeIt.Value())
		}
		edgeIt := ex.EdgePredicates(i)
		for edgeIt.Reset(); !edgeIt.IsExhausted(); edgeIt.Advance() {
			grad.Inc(o.encoder.EdgeWeightIndex(edgeIt.Index(), trans.SelfIndex), edgeIt.Value())
		}
	}

	// Expected contribution under the current model, weighted by the
	// node and edge marginals.
	numStates := ss.States().Size()
	numTrans := ss.NumTransitions()
	for i := range length - 1 {
		nodeIt := ex.NodePredicates(i)
		for nodeIt.Reset(); !nodeIt.IsExhausted(); nodeIt.Advance() {
			p, v := nodeIt.Index(), nodeIt.Value()
			for s := range numStates {
				grad.Inc(o.encoder.NodeWeightIndex(p, s), -v*res.NodeMarginals[i][s])
			}
		}
		edgeIt := ex.EdgePredicates(i)
		for edgeIt.Reset(); !edgeIt.IsExhausted(); edgeIt.Advance() {
			p, v := edgeIt.Index(), edgeIt.Value()
			for t := range numTrans {
				grad.Inc(o.encoder.EdgeWeightIndex(p, t), -v*res.EdgeMarginals[i][t])
			}
		}
	}

	return logNumerator - res.LogZ, nil
}
