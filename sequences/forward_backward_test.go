package sequences

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
)

// branchSpace is <s> -> {A,B} -> </s> with no interior transitions.
func branchSpace(t *testing.T) *StateSpace[string] {
	t.Helper()
	ss, err := NewStateSpace(
		[]string{"<s>", "A", "B", "</s>"},
		"<s>", "</s>",
		[][2]string{{"<s>", "A"}, {"<s>", "B"}, {"A", "</s>"}, {"B", "</s>"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	return ss
}

// fullSpace is <s> -> {A,B} with full interior transitions -> </s>.
func fullSpace(t *testing.T) *StateSpace[string] {
	t.Helper()
	ss, err := NewStateSpace(
		[]string{"<s>", "A", "B", "</s>"},
		"<s>", "</s>",
		[][2]string{
			{"<s>", "A"}, {"<s>", "B"},
			{"A", "A"}, {"A", "B"}, {"B", "A"}, {"B", "B"},
			{"A", "</s>"}, {"B", "</s>"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return ss
}

func zeroPotentials(rows, cols int) [][]float64 {
	pot := make([][]float64, rows)
	for i := range rows {
		pot[i] = make([]float64, cols)
	}
	return pot
}

func TestSingleLegalPath(t *testing.T) {
	ss := chainSpace(t)
	fb := NewForwardBackwards(ss)

	// L=4: the only legal path is <s>, A, A, </s>.
	res, err := fb.Compute(zeroPotentials(3, ss.NumTransitions()))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.LogZ) > 1e-12 {
		t.Errorf("LogZ = %v, want 0", res.LogZ)
	}
	a := ss.States().IndexOf("A")
	wantPath := []int{ss.StartStateIndex(), a, a, ss.StopStateIndex()}
	for i, s := range wantPath {
		if res.Viterbi[i] != s {
			t.Fatalf("Viterbi = %v, want %v", res.Viterbi, wantPath)
		}
	}
	for _, i := range []int{1, 2} {
		if math.Abs(res.NodeMarginals[i][a]-1) > 1e-12 {
			t.Errorf("NodeMarginals[%d][A] = %v, want 1", i, res.NodeMarginals[i][a])
		}
	}
}

func TestAmbiguousTwoPath(t *testing.T) {
	ss := branchSpace(t)
	fb := NewForwardBackwards(ss)
	a := ss.States().IndexOf("A")
	b := ss.States().IndexOf("B")
	toA, _ := ss.TransitionFor(ss.StartStateIndex(), a)
	toB, _ := ss.TransitionFor(ss.StartStateIndex(), b)

	pot := zeroPotentials(2, ss.NumTransitions())
	pot[0][toA.SelfIndex] = 1.0
	pot[0][toB.SelfIndex] = 0.5

	res, err := fb.Compute(pot)
	if err != nil {
		t.Fatal(err)
	}
	wantLogZ := math.Log(math.Exp(1.0) + math.Exp(0.5))
	if math.Abs(res.LogZ-wantLogZ) > 1e-12 {
		t.Errorf("LogZ = %v, want %v", res.LogZ, wantLogZ)
	}
	wantMarg := math.Exp(1.0) / (math.Exp(1.0) + math.Exp(0.5))
	if math.Abs(res.NodeMarginals[1][a]-wantMarg) > 1e-12 {
		t.Errorf("NodeMarginals[1][A] = %v, want %v", res.NodeMarginals[1][a], wantMarg)
	}
	if res.Viterbi[1] != a {
		t.Errorf("Viterbi picks state %d, want A=%d", res.Viterbi[1], a)
	}
}

func TestNegInfPotentialAbsorbs(t *testing.T) {
	ss := branchSpace(t)
	fb := NewForwardBackwards(ss)
	b := ss.States().IndexOf("B")
	toB, _ := ss.TransitionFor(ss.StartStateIndex(), b)

	pot := zeroPotentials(2, ss.NumTransitions())
	pot[0][toB.SelfIndex] = math.Inf(-1)

	res, err := fb.Compute(pot)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsInf(res.LogZ, 0) || math.IsNaN(res.LogZ) {
		t.Fatalf("LogZ = %v, want finite", res.LogZ)
	}
	if got := res.EdgeMarginals[0][toB.SelfIndex]; got != 0 {
		t.Errorf("EdgeMarginals on -Inf transition = %v, want exactly 0", got)
	}
	if got := res.NodeMarginals[1][b]; got != 0 {
		t.Errorf("NodeMarginals[1][B] = %v, want 0", got)
	}
	for i, row := range res.NodeMarginals {
		for s, v := range row {
			if math.IsNaN(v) {
				t.Fatalf("NaN in NodeMarginals[%d][%d]", i, s)
			}
		}
	}
}

func TestInfeasibleExample(t *testing.T) {
	ss := branchSpace(t)
	fb := NewForwardBackwards(ss)

	pot := zeroPotentials(2, ss.NumTransitions())
	for j := range pot[0] {
		pot[0][j] = math.Inf(-1)
	}
	_, err := fb.Compute(pot)
	if !errors.Is(err, ErrInfeasible) {
		t.Errorf("err = %v, want ErrInfeasible", err)
	}
}

func TestNumericAndDimensionErrors(t *testing.T) {
	ss := chainSpace(t)
	fb := NewForwardBackwards(ss)

	pot := zeroPotentials(3, ss.NumTransitions())
	pot[1][0] = math.Inf(1)
	if _, err := fb.Compute(pot); !errors.Is(err, ErrNumeric) {
		t.Errorf("+Inf potential: err = %v, want ErrNumeric", err)
	}

	pot = zeroPotentials(3, ss.NumTransitions())
	pot[2][1] = math.NaN()
	if _, err := fb.Compute(pot); !errors.Is(err, ErrNumeric) {
		t.Errorf("NaN potential: err = %v, want ErrNumeric", err)
	}

	if _, err := fb.Compute(zeroPotentials(3, ss.NumTransitions()+1)); !errors.Is(err, ErrDimension) {
		t.Errorf("wide rows: err = %v, want ErrDimension", err)
	}
	if _, err := fb.Compute(nil); !errors.Is(err, ErrDimension) {
		t.Errorf("empty matrix: err = %v, want ErrDimension", err)
	}
}

// enumeratePaths lists every legal state sequence of the given length
// through ss, with its total potential score.
func enumeratePaths(ss *StateSpace[string], pot [][]float64) ([][]int, []float64) {
	length := len(pot) + 1
	var paths [][]int
	var scores []float64
	var walk func(path []int, score float64)
	walk = func(path []int, score float64) {
		i := len(path) - 1
		if i == length-1 {
			if path[i] == ss.StopStateIndex() {
				paths = append(paths, append([]int(nil), path...))
				scores = append(scores, score)
			}
			return
		}
		for _, tr := range ss.TransitionsFrom(path[i]) {
			v := pot[i][tr.SelfIndex]
			if math.IsInf(v, -1) {
				continue
			}
			walk(append(path, tr.To), score+v)
		}
	}
	walk([]int{ss.StartStateIndex()}, 0)
	return paths, scores
}

func TestRandomPotentialsAgainstBruteForce(t *testing.T) {
	ss := fullSpace(t)
	fb := NewForwardBackwards(ss)
	rng := rand.New(rand.NewSource(42))

	for trial := range 20 {
		length := 3 + rng.Intn(4)
		pot := make([][]float64, length-1)
		for i := range pot {
			pot[i] = make([]float64, ss.NumTransitions())
			for j := range pot[i] {
				pot[i][j] = rng.Float64()*4 - 2
			}
		}

		res, err := fb.Compute(pot)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}

		paths, scores := enumeratePaths(ss, pot)
		if len(paths) == 0 {
			t.Fatalf("trial %d: no legal paths", trial)
		}

		// logZ matches exhaustive log-sum-exp.
		if want := floats.LogSumExp(scores); math.Abs(res.LogZ-want) > 1e-9 {
			t.Errorf("trial %d: LogZ = %v, want %v", trial, res.LogZ, want)
		}

		// Viterbi is optimal.
		best := 0
		for i := range scores {
			if scores[i] > scores[best] {
				best = i
			}
		}
		var viterbiScore float64
		for i := 0; i+1 < length; i++ {
			tr, ok := ss.TransitionFor(res.Viterbi[i], res.Viterbi[i+1])
			if !ok {
				t.Fatalf("trial %d: viterbi uses illegal transition", trial)
			}
			viterbiScore += pot[i][tr.SelfIndex]
		}
		if math.Abs(viterbiScore-scores[best]) > 1e-9 {
			t.Errorf("trial %d: viterbi score %v, best path score %v", trial, viterbiScore, scores[best])
		}

		// Marginal rows sum to one.
		for i, row := range res.NodeMarginals {
			if sum := floats.Sum(row); math.Abs(sum-1) > 1e-9 {
				t.Errorf("trial %d: node marginals row %d sums to %v", trial, i, sum)
			}
		}
		for i, row := range res.EdgeMarginals {
			if sum := floats.Sum(row); math.Abs(sum-1) > 1e-9 {
				t.Errorf("trial %d: edge marginals row %d sums to %v", trial, i, sum)
			}
		}

		// Edge marginals are consistent with node marginals.
		numStates := ss.States().Size()
		for i := 0; i+1 < length; i++ {
			for s := range numStates {
				var outSum float64
				for _, tr := range ss.TransitionsFrom(s) {
					outSum += res.EdgeMarginals[i][tr.SelfIndex]
				}
				if math.Abs(outSum-res.NodeMarginals[i][s]) > 1e-9 {
					t.Errorf("trial %d: out-marginal of state %d at %d = %v, node %v",
						trial, s, i, outSum, res.NodeMarginals[i][s])
				}
				var inSum float64
				for _, tr := range ss.TransitionsTo(s) {
					inSum += res.EdgeMarginals[i][tr.SelfIndex]
				}
				if math.Abs(inSum-res.NodeMarginals[i+1][s]) > 1e-9 {
					t.Errorf("trial %d: in-marginal of state %d at %d = %v, node %v",
						trial, s, i+1, inSum, res.NodeMarginals[i+1][s])
				}
			}
		}

		// Any single path scores at most logZ.
		for i := range scores {
			if scores[i] > res.LogZ+1e-9 {
				t.Errorf("trial %d: path score %v exceeds LogZ %v", trial, scores[i], res.LogZ)
			}
		}
	}
}

func TestViterbiTieBreaksLowerState(t *testing.T) {
	ss := branchSpace(t)
	fb := NewForwardBackwards(ss)

	// Both paths score identically; A has the lower state index.
	res, err := fb.Compute(zeroPotentials(2, ss.NumTransitions()))
	if err != nil {
		t.Fatal(err)
	}
	if want := ss.States().IndexOf("A"); res.Viterbi[1] != want {
		t.Errorf("tied viterbi picks state %d, want %d", res.Viterbi[1], want)
	}
}

func TestMaxTokenDivergesFromViterbi(t *testing.T) {
	ss := fullSpace(t)
	fb := NewForwardBackwards(ss)
	a := ss.States().IndexOf("A")
	b := ss.States().IndexOf("B")

	// Path probabilities over the two interior positions:
	// AA=0.30, AB=0.14, BA=0.28, BB=0.28. The joint argmax is AA, but
	// B carries more mass at position 1 and A at position 2, and the
	// max-token pass prefers BA.
	idx := func(from, to int) int {
		tr, ok := ss.TransitionFor(from, to)
		if !ok {
			t.Fatalf("missing transition %d->%d", from, to)
		}
		return tr.SelfIndex
	}
	pot := zeroPotentials(3, ss.NumTransitions())
	pot[1][idx(a, a)] = math.Log(0.30)
	pot[1][idx(a, b)] = math.Log(0.14)
	pot[1][idx(b, a)] = math.Log(0.28)
	pot[1][idx(b, b)] = math.Log(0.28)

	res, err := fb.Compute(pot)
	if err != nil {
		t.Fatal(err)
	}
	if res.Viterbi[1] != a || res.Viterbi[2] != a {
		t.Fatalf("Viterbi = %v, want interior A,A", res.Viterbi)
	}

	maxToken, err := fb.MaxTokenPath(res)
	if err != nil {
		t.Fatal(err)
	}
	if maxToken[1] != b || maxToken[2] != a {
		t.Errorf("MaxToken = %v, want interior B,A", maxToken)
	}
}

func TestLogAdd(t *testing.T) {
	negInf := math.Inf(-1)
	if got := logAdd(negInf, negInf); !math.IsInf(got, -1) {
		t.Errorf("logAdd(-Inf, -Inf) = %v, want -Inf", got)
	}
	if got := logAdd(negInf, 1.5); got != 1.5 {
		t.Errorf("logAdd(-Inf, 1.5) = %v, want 1.5", got)
	}
	// Direct evaluation of log(exp(-800)+exp(-801)) underflows to -Inf;
	// the max-subtract form must not.
	want := -800 + math.Log(1+math.Exp(-1))
	if got := logAdd(-800, -801); math.Abs(got-want) > 1e-12 {
		t.Errorf("logAdd(-800, -801) = %v, want %v", got, want)
	}
}
