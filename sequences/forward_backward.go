package sequences

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// marginalDrift is how far a marginal row may drift from summing to
// one before it is renormalized.
const marginalDrift = 1e-9

// Result bundles the outputs of one forward-backwards pass. All fields
// are freshly allocated per call and owned by the caller.
type Result struct {
	// Viterbi is the best path as state indices, beginning with the
	// start state and ending with the stop state.
	Viterbi []int
	// LogZ is the log partition over all legal paths.
	LogZ float64
	// NodeMarginals[i][s] is the probability that position i is in
	// state s. Rows sum to one.
	NodeMarginals [][]float64
	// EdgeMarginals[i][t] is the probability that transition t is used
	// between positions i and i+1. Rows sum to one.
	EdgeMarginals [][]float64
}

// ForwardBackwards is the log-domain message passing kernel for one
// state space. It holds no per-call state; one instance may be shared
// by concurrent callers.
type ForwardBackwards[S comparable] struct {
	ss *StateSpace[S]
}

// NewForwardBackwards returns a kernel bound to ss.
func NewForwardBackwards[S comparable](ss *StateSpace[S]) *ForwardBackwards[S] {
	return &ForwardBackwards[S]{ss: ss}
}

// Compute runs Viterbi and forward-backwards over the potential matrix
// pot, where pot[i][t] is the log score of transition t occupying
// positions i and i+1. Entries may be any finite value or -Inf; -Inf
// is absorbing. +Inf or NaN entries fail with ErrNumeric, a row length
// other than the transition count fails with ErrDimension, and a state
// space admitting no path of this length fails with ErrInfeasible.
func (fb *ForwardBackwards[S]) Compute(pot [][]float64) (*Result, error) {
	numStates := fb.ss.States().Size()
	numTrans := fb.ss.NumTransitions()
	if len(pot) == 0 {
		return nil, fmt.Errorf("%w: potential matrix is empty", ErrDimension)
	}
	for i, row := range pot {
		if len(row) != numTrans {
			return nil, fmt.Errorf("%w: potential row %d has %d entries, state space has %d transitions",
				ErrDimension, i, len(row), numTrans)
		}
		for t, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 1) {
				return nil, fmt.Errorf("%w: potential[%d][%d] = %v", ErrNumeric, i, t, v)
			}
		}
	}
	length := len(pot) + 1
	start := fb.ss.StartStateIndex()
	stop := fb.ss.StopStateIndex()
	transitions := fb.ss.Transitions()

	// Forward messages.
	alpha := negInfMatrix(length, numStates)
	alpha[0][start] = 0
	for i := range length - 1 {
		for _, t := range transitions {
			score := alpha[i][t.From] + pot[i][t.SelfIndex]
			if !math.IsInf(score, -1) {
				alpha[i+1][t.To] = logAdd(alpha[i+1][t.To], score)
			}
		}
	}
	logZ := alpha[length-1][stop]
	if math.IsNaN(logZ) {
		return nil, fmt.Errorf("%w: logZ is NaN", ErrNumeric)
	}
	if math.IsInf(logZ, -1) {
		return nil, fmt.Errorf("%w: sequence of length %d has log partition -Inf", ErrInfeasible, length)
	}

	// Backward messages.
	beta := negInfMatrix(length, numStates)
	beta[length-1][stop] = 0
	for i := length - 2; i >= 0; i-- {
		for _, t := range transitions {
			score := pot[i][t.SelfIndex] + beta[i+1][t.To]
			if !math.IsInf(score, -1) {
				beta[i][t.From] = logAdd(beta[i][t.From], score)
			}
		}
	}

	// Node marginals.
	nodeMarginals := make([][]float64, length)
	for i := range length {
		row := make([]float64, numStates)
		for s := range numStates {
			row[s] = math.Exp(alpha[i][s] + beta[i][s] - logZ)
		}
		renormalize(row)
		nodeMarginals[i] = row
	}

	// Edge marginals.
	edgeMarginals := make([][]float64, length-1)
	for i := range length - 1 {
		row := make([]float64, numTrans)
		for _, t := range transitions {
			row[t.SelfIndex] = math.Exp(alpha[i][t.From] + pot[i][t.SelfIndex] + beta[i+1][t.To] - logZ)
		}
		renormalize(row)
		edgeMarginals[i] = row
	}

	// Viterbi. Transitions are visited in SelfIndex order, which is
	// ascending (from, to), so strict improvement breaks ties toward
	// the lower state index.
	delta := negInfMatrix(length, numStates)
	delta[0][start] = 0
	backpointers := make([][]int, length)
	for i := range length {
		backpointers[i] = make([]int, numStates)
		for s := range numStates {
			backpointers[i][s] = -1
		}
	}
	for i := range length - 1 {
		for _, t := range transitions {
			score := delta[i][t.From] + pot[i][t.SelfIndex]
			if !math.IsInf(score, -1) && score > delta[i+1][t.To] {
				delta[i+1][t.To] = score
				backpointers[i+1][t.To] = t.From
			}
		}
	}
	viterbi := make([]int, length)
	viterbi[length-1] = stop
	for i := length - 1; i > 0; i-- {
		prev := backpointers[i][viterbi[i]]
		if prev < 0 {
			return nil, fmt.Errorf("%w: viterbi backtrace broke at position %d", ErrNumeric, i)
		}
		viterbi[i-1] = prev
	}

	return &Result{
		Viterbi:       viterbi,
		LogZ:          logZ,
		NodeMarginals: nodeMarginals,
		EdgeMarginals: edgeMarginals,
	}, nil
}

// MaxTokenPath decodes the path maximizing the product of per-position
// edge marginals from a previous Compute result. The marginals are
// mapped back to the log domain (zero becomes -Inf) and pushed through
// the same constrained Viterbi, so the result is always graph-legal.
func (fb *ForwardBackwards[S]) MaxTokenPath(res *Result) ([]int, error) {
	logMarginals := make([][]float64, len(res.EdgeMarginals))
	for i, row := range res.EdgeMarginals {
		logRow := make([]float64, len(row))
		for t, p := range row {
			if p == 0 {
				logRow[t] = math.Inf(-1)
			} else {
				logRow[t] = math.Log(p)
			}
		}
		logMarginals[i] = logRow
	}
	second, err := fb.Compute(logMarginals)
	if err != nil {
		return nil, err
	}
	return second.Viterbi, nil
}

// logAdd returns log(exp(a)+exp(b)) using the max-subtract trick.
// logAdd(-Inf, -Inf) is -Inf, never NaN.
func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	m := math.Max(a, b)
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

func negInfMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range rows {
		row := make([]float64, cols)
		for j := range cols {
			row[j] = math.Inf(-1)
		}
		m[i] = row
	}
	return m
}

// renormalize rescales row to sum to one when accumulated error has
// pushed it beyond the allowed drift.
func renormalize(row []float64) {
	sum := floats.Sum(row)
	if sum > 0 && math.Abs(sum-1) > marginalDrift {
		floats.Scale(1/sum, row)
	}
}
