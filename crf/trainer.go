package crf

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"github.com/codeaudit/ml-1/internal/parallel"
	"github.com/codeaudit/ml-1/linalg"
	"github.com/codeaudit/ml-1/sequences"
)

// LabeledSequence is one training sequence: per-position feature dicts
// and the gold labels, without sentinels.
type LabeledSequence struct {
	Features []map[string]float64
	Labels   []string
}

// TrainerConfig holds CRF training hyperparameters.
type TrainerConfig struct {
	C1            float64 // L1 regularization
	C2            float64 // L2 regularization
	MaxIterations int
	Epsilon       float64 // convergence threshold on the max pseudo-gradient
	Workers       int     // examples are fanned out across this many goroutines
}

// DefaultTrainerConfig returns the default training config.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		C1:            0.1,
		C2:            0.01,
		MaxIterations: 100,
		Epsilon:       1e-5,
		Workers:       runtime.GOMAXPROCS(0),
	}
}

// Train fits a text model on the corpus using OWL-QN. The state space
// is built from the transitions observed in the gold labels; the
// predicate vocabularies from the observed feature names.
func Train(corpus []LabeledSequence, config TrainerConfig) (*TextModel, error) {
	if len(corpus) == 0 {
		return nil, fmt.Errorf("%w: empty training corpus", sequences.ErrConfig)
	}
	labelSeqs := make([][]string, len(corpus))
	featSeqs := make([][]map[string]float64, len(corpus))
	for i, seq := range corpus {
		if len(seq.Labels) != len(seq.Features) {
			return nil, fmt.Errorf("%w: sequence %d has %d labels for %d positions",
				sequences.ErrDimension, i, len(seq.Labels), len(seq.Features))
		}
		labelSeqs[i] = seq.Labels
		featSeqs[i] = seq.Features
	}

	ss, err := sequences.NewStateSpaceFromLabeled(StartState, StopState, labelSeqs)
	if err != nil {
		return nil, err
	}
	fe := BuildFeatureEncoder(ss, Featurizer[map[string]float64](DictFeaturizer{}), featSeqs)
	we := NewWeightsEncoder(ss, fe.NodePredicates().Size(), fe.EdgePredicates().Size())
	objective := NewLogLikelihoodObjective(we)

	examples := make([]*IndexedExample, len(corpus))
	for i, seq := range corpus {
		if examples[i], err = fe.LabeledExample(seq.Features, seq.Labels); err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
	}

	dim := we.NumWeights()
	slog.Debug("CRF training started",
		"sequences", len(examples), "states", ss.States().Size(),
		"transitions", ss.NumTransitions(), "weights", dim)

	// Full-corpus negative log-likelihood and gradient, regularized.
	// The objective is a log-likelihood to maximize; OWL-QN minimizes,
	// so both are negated here.
	evalAll := func(w linalg.Dense) (float64, linalg.Dense) {
		ll, grad := parallel.MapReduce(len(examples), config.Workers, dim,
			func(i int, g linalg.Dense) float64 {
				v, err := objective.Evaluate(examples[i], w, g)
				if err != nil {
					slog.Warn("skipping training example", "index", i, "err", err)
					return 0
				}
				if v > 1e-6 {
					slog.Warn("gold score exceeds log partition, skipping example",
						"index", i, "log_likelihood", v)
					return 0
				}
				return v
			})
		nll := -ll
		for i := range dim {
			grad[i] = -grad[i]
		}
		if config.C2 > 0 {
			for i := range dim {
				grad[i] += config.C2 * w[i]
				nll += 0.5 * config.C2 * w[i] * w[i]
			}
		}
		if config.C1 > 0 {
			for i := range dim {
				nll += config.C1 * math.Abs(w[i])
			}
		}
		return nll, grad
	}

	w := linalg.NewDense(dim)
	opt := newLBFGS(dim, 10)
	nll, grad := evalAll(w)

	for iter := range config.MaxIterations {
		pg := pseudoGradient(w, grad, config.C1)

		dir := opt.computeDirection(pg)
		// Constrain the direction to the pseudo-gradient's orthant.
		for i := range dim {
			if dir[i]*pg[i] > 0 {
				dir[i] = 0
			}
		}

		step := owlqnLineSearch(w, dir, nll, pg, func(wNew linalg.Dense) float64 {
			obj, _ := evalAll(wNew)
			return obj
		}, config.C1)
		if step == 0 {
			slog.Warn("CRF line search failed, stopping", "iteration", iter+1)
			break
		}

		prevW := w.Copy()
		for i := range dim {
			w[i] += step * dir[i]
		}
		// Project back onto the orthant.
		if config.C1 > 0 {
			for i := range dim {
				if w[i]*prevW[i] < 0 {
					w[i] = 0
				}
			}
		}

		newNLL, newGrad := evalAll(w)
		newPG := pseudoGradient(w, newGrad, config.C1)

		s := make([]float64, dim)
		y := make([]float64, dim)
		for i := range dim {
			s[i] = w[i] - prevW[i]
			y[i] = newPG[i] - pg[i]
		}
		opt.update(s, y)

		slog.Debug("CRF training iteration", "iteration", iter+1, "nll", newNLL, "step", step)
		nll, grad = newNLL, newGrad

		maxGrad := 0.0
		for _, g := range newPG {
			if math.Abs(g) > maxGrad {
				maxGrad = math.Abs(g)
			}
		}
		if maxGrad < config.Epsilon {
			slog.Debug("CRF converged", "iteration", iter+1, "max_gradient", maxGrad)
			break
		}
	}

	return NewModel(fe, we, w), nil
}

// pseudoGradient computes the OWL-QN pseudo-gradient of the
// L1-regularized objective at w.
func pseudoGradient(w, grad linalg.Dense, c1 float64) linalg.Dense {
	pg := linalg.NewDense(len(w))
	if c1 == 0 {
		copy(pg, grad)
		return pg
	}
	for i := range w {
		switch {
		case w[i] > 0:
			pg[i] = grad[i] + c1
		case w[i] < 0:
			pg[i] = grad[i] - c1
		default:
			switch {
			case grad[i]+c1 < 0:
				pg[i] = grad[i] + c1
			case grad[i]-c1 > 0:
				pg[i] = grad[i] - c1
			default:
				pg[i] = 0
			}
		}
	}
	return pg
}

// lbfgs implements the L-BFGS two-loop recursion.
type lbfgs struct {
	n    int // number of variables
	m    int // memory size
	s    [][]float64
	y    [][]float64
	rho  []float64
	k    int
	size int
}

func newLBFGS(n, m int) *lbfgs {
	return &lbfgs{
		n:   n,
		m:   m,
		s:   make([][]float64, m),
		y:   make([][]float64, m),
		rho: make([]float64, m),
	}
}

func (l *lbfgs) update(s, y []float64) {
	sy := dot(s, y)
	if sy <= 0 {
		return
	}
	idx := l.k % l.m
	l.s[idx] = make([]float64, l.n)
	l.y[idx] = make([]float64, l.n)
	copy(l.s[idx], s)
	copy(l.y[idx], y)
	l.rho[idx] = 1.0 / sy
	l.k++
	if l.size < l.m {
		l.size++
	}
}

func (l *lbfgs) computeDirection(pg []float64) []float64 {
	q := make([]float64, l.n)
	copy(q, pg)

	if l.size == 0 {
		// Plain steepest descent until memory accumulates.
		for i := range q {
			q[i] = -q[i]
		}
		return q
	}

	alpha := make([]float64, l.size)

	// First loop
	for i := l.size - 1; i >= 0; i-- {
		idx := (l.k - 1 - (l.size - 1 - i)) % l.m
		if idx < 0 {
			idx += l.m
		}
		alpha[i] = l.rho[idx] * dot(l.s[idx], q)
		for j := range l.n {
			q[j] -= alpha[i] * l.y[idx][j]
		}
	}

	// Scale by H_0 = (s_k^T y_k) / (y_k^T y_k)
	latestIdx := (l.k - 1) % l.m
	if latestIdx < 0 {
		latestIdx += l.m
	}
	yy := dot(l.y[latestIdx], l.y[latestIdx])
	if yy > 0 {
		sy := dot(l.s[latestIdx], l.y[latestIdx])
		gamma := sy / yy
		for i := range q {
			q[i] *= gamma
		}
	}

	// Second loop
	for i := range l.size {
		idx := (l.k - l.size + i) % l.m
		if idx < 0 {
			idx += l.m
		}
		beta := l.rho[idx] * dot(l.y[idx], q)
		for j := range l.n {
			q[j] += (alpha[i] - beta) * l.s[idx][j]
		}
	}

	// Negate for descent direction
	for i := range q {
		q[i] = -q[i]
	}
	return q
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// owlqnLineSearch performs a backtracking line search for OWL-QN.
func owlqnLineSearch(w linalg.Dense, dir []float64, fVal float64, pg []float64, objFunc func(linalg.Dense) float64, c1 float64) float64 {
	dirDeriv := dot(dir, pg)
	if dirDeriv >= 0 {
		return 0
	}

	n := len(w)
	step := 1.0
	c := 1e-4 // Armijo constant
	wNew := linalg.NewDense(n)

	for trial := 0; trial < 20; trial++ {
		for i := range n {
			wNew[i] = w[i] + step*dir[i]
		}
		// Project onto orthant
		if c1 > 0 {
			for i := range n {
				if wNew[i]*w[i] < 0 {
					wNew[i] = 0
				}
			}
		}

		fNew := objFunc(wNew)
		if fNew <= fVal+c*step*dirDeriv {
			return step
		}
		step *= 0.5
	}
	return step // return last tried step even if not sufficient decrease
}
