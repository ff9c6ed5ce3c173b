package crf

import (
	"fmt"
	"sort"

	"github.com/codeaudit/ml-1/indexer"
	"github.com/codeaudit/ml-1/linalg"
	"github.com/codeaudit/ml-1/sequences"
)

// Featurizer extracts named feature activations from an observation
// sequence. NodeFeatures(obs, i) describes the observation at position
// i; EdgeFeatures(obs, i) describes the pair (i, i+1). Either may
// return nil.
type Featurizer[O any] interface {
	NodeFeatures(obs []O, i int) map[string]float64
	EdgeFeatures(obs []O, i int) map[string]float64
}

// FeatureEncoder compiles observation sequences into IndexedExamples
// against fixed node and edge predicate vocabularies. The sentinel
// positions framing each sequence carry no predicates.
type FeatureEncoder[S comparable, O any] struct {
	stateSpace *sequences.StateSpace[S]
	featurizer Featurizer[O]
	nodePreds  *indexer.Indexer[string]
	edgePreds  *indexer.Indexer[string]
}

// BuildFeatureEncoder scans a corpus, collects the distinct node and
// edge predicate names in sorted order, and returns an encoder over
// those vocabularies.
func BuildFeatureEncoder[S comparable, O any](ss *sequences.StateSpace[S], f Featurizer[O], corpus [][]O) *FeatureEncoder[S, O] {
	nodeNames := map[string]bool{}
	edgeNames := map[string]bool{}
	for _, obs := range corpus {
		for i := range obs {
			for name := range f.NodeFeatures(obs, i) {
				nodeNames[name] = true
			}
		}
		for i := 0; i+1 < len(obs); i++ {
			for name := range f.EdgeFeatures(obs, i) {
				edgeNames[name] = true
			}
		}
	}
	return NewFeatureEncoder(ss, f, indexer.Of(sortedKeys(nodeNames)), indexer.Of(sortedKeys(edgeNames)))
}

// NewFeatureEncoder returns an encoder over existing predicate
// vocabularies, as when restoring a saved model.
func NewFeatureEncoder[S comparable, O any](ss *sequences.StateSpace[S], f Featurizer[O], nodePreds, edgePreds *indexer.Indexer[string]) *FeatureEncoder[S, O] {
	return &FeatureEncoder[S, O]{stateSpace: ss, featurizer: f, nodePreds: nodePreds, edgePreds: edgePreds}
}

// StateSpace returns the state space the encoder targets.
func (e *FeatureEncoder[S, O]) StateSpace() *sequences.StateSpace[S] { return e.stateSpace }

// NodePredicates returns the node predicate vocabulary.
func (e *FeatureEncoder[S, O]) NodePredicates() *indexer.Indexer[string] { return e.nodePreds }

// EdgePredicates returns the edge predicate vocabulary.
func (e *FeatureEncoder[S, O]) EdgePredicates() *indexer.Indexer[string] { return e.edgePreds }

// IndexedExample compiles an unlabeled observation sequence. Feature
// names outside the vocabularies are dropped.
func (e *FeatureEncoder[S, O]) IndexedExample(input []O) (*IndexedExample, error) {
	return e.encode(input, nil)
}

// LabeledExample compiles an observation sequence with its gold
// labels, framed by the start and stop sentinels.
func (e *FeatureEncoder[S, O]) LabeledExample(input []O, labels []S) (*IndexedExample, error) {
	if len(labels) != len(input) {
		return nil, fmt.Errorf("%w: %d labels for %d observations",
			sequences.ErrDimension, len(labels), len(input))
	}
	states := e.stateSpace.States()
	gold := make([]int, len(input)+2)
	gold[0] = e.stateSpace.StartStateIndex()
	gold[len(gold)-1] = e.stateSpace.StopStateIndex()
	for i, label := range labels {
		s := states.IndexOf(label)
		if s < 0 {
			return nil, fmt.Errorf("%w: label %v not in state space", sequences.ErrConfig, label)
		}
		gold[i+1] = s
	}
	return e.encode(input, gold)
}

func (e *FeatureEncoder[S, O]) encode(input []O, gold []int) (*IndexedExample, error) {
	length := len(input) + 2
	nodePreds := make([]*linalg.Sparse, length)
	for i := range input {
		nodePreds[i+1] = e.sparseFor(e.featurizer.NodeFeatures(input, i), e.nodePreds)
	}
	edgePreds := make([]*linalg.Sparse, length-1)
	for i := 0; i+1 < len(input); i++ {
		edgePreds[i+1] = e.sparseFor(e.featurizer.EdgeFeatures(input, i), e.edgePreds)
	}
	return NewIndexedExample(nodePreds, edgePreds, gold)
}

func (e *FeatureEncoder[S, O]) sparseFor(feats map[string]float64, vocab *indexer.Indexer[string]) *linalg.Sparse {
	entries := make(map[int]float64, len(feats))
	for name, val := range feats {
		if p := vocab.IndexOf(name); p >= 0 {
			entries[p] = val
		}
	}
	return linalg.SparseFromMap(vocab.Size(), entries)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DictFeaturizer treats each observation as an already-extracted
// feature dictionary, the shape training corpora are stored in.
type DictFeaturizer struct{}

func (DictFeaturizer) NodeFeatures(obs []map[string]float64, i int) map[string]float64 {
	return obs[i]
}

func (DictFeaturizer) EdgeFeatures(obs []map[string]float64, i int) map[string]float64 {
	return nil
}
