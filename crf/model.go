package crf

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/codeaudit/ml-1/indexer"
	"github.com/codeaudit/ml-1/linalg"
	"github.com/codeaudit/ml-1/sequences"
)

// InferenceMode selects how BestGuess decodes.
type InferenceMode int

const (
	// Viterbi returns the single highest-scoring legal path.
	Viterbi InferenceMode = iota
	// MaxToken returns the legal path maximizing the product of
	// per-position edge marginals.
	MaxToken
)

// Model is a trained CRF tagger: a feature encoder, a weights encoder
// over the same state space, and the learned weights.
type Model[S comparable, O any] struct {
	featureEncoder *FeatureEncoder[S, O]
	weightsEncoder *WeightsEncoder[S]
	weights        linalg.Dense
	mode           InferenceMode
}

// NewModel assembles a model from its parts.
func NewModel[S comparable, O any](fe *FeatureEncoder[S, O], we *WeightsEncoder[S], weights linalg.Dense) *Model[S, O] {
	return &Model[S, O]{featureEncoder: fe, weightsEncoder: we, weights: weights}
}

// SetInferenceMode switches between Viterbi and MaxToken decoding.
func (m *Model[S, O]) SetInferenceMode(mode InferenceMode) { m.mode = mode }

// Weights returns the parameter vector. The slice must not be modified
// while tagging is in flight.
func (m *Model[S, O]) Weights() linalg.Dense { return m.weights }

// FeatureEncoder returns the model's feature encoder.
func (m *Model[S, O]) FeatureEncoder() *FeatureEncoder[S, O] { return m.featureEncoder }

// WeightsEncoder returns the model's weights encoder.
func (m *Model[S, O]) WeightsEncoder() *WeightsEncoder[S] { return m.weightsEncoder }

// BestGuess tags an observation sequence. The returned states include
// the start and stop sentinels; callers strip them if unwanted.
func (m *Model[S, O]) BestGuess(input []O) ([]S, error) {
	ex, err := m.featureEncoder.IndexedExample(input)
	if err != nil {
		return nil, err
	}
	pot, err := m.weightsEncoder.FillPotentials(m.weights, ex)
	if err != nil {
		return nil, err
	}
	fb := sequences.NewForwardBackwards(m.weightsEncoder.StateSpace())
	res, err := fb.Compute(pot)
	if err != nil {
		return nil, err
	}
	path := res.Viterbi
	if m.mode == MaxToken {
		if path, err = fb.MaxTokenPath(res); err != nil {
			return nil, err
		}
	}
	states := m.weightsEncoder.StateSpace().States()
	out := make([]S, len(path))
	for i, s := range path {
		out[i] = states.Get(s)
	}
	return out, nil
}

// TextModel is the persistable string-labeled model over feature-dict
// observations.
type TextModel = Model[string, map[string]float64]

const modelVersion = "1.0"

// modelFile is the JSON layout of a saved model. Transitions reference
// states by index in the order of the States list; they are stored in
// SelfIndex order, which NewStateSpace reproduces on load.
type modelFile struct {
	Version        string    `json:"version"`
	States         []string  `json:"states"`
	StartState     string    `json:"start_state"`
	StopState      string    `json:"stop_state"`
	Transitions    [][2]int  `json:"transitions"`
	NodePredicates []string  `json:"node_predicates"`
	EdgePredicates []string  `json:"edge_predicates"`
	Weights        []float64 `json:"weights"`
}

// MarshalModel serializes a text model to JSON bytes.
func MarshalModel(m *TextModel) ([]byte, error) {
	ss := m.weightsEncoder.StateSpace()
	states := ss.States().Elements()
	transitions := make([][2]int, ss.NumTransitions())
	for _, t := range ss.Transitions() {
		transitions[t.SelfIndex] = [2]int{t.From, t.To}
	}
	return json.Marshal(modelFile{
		Version:        modelVersion,
		States:         states,
		StartState:     ss.States().Get(ss.StartStateIndex()),
		StopState:      ss.States().Get(ss.StopStateIndex()),
		Transitions:    transitions,
		NodePredicates: m.featureEncoder.NodePredicates().Elements(),
		EdgePredicates: m.featureEncoder.EdgePredicates().Elements(),
		Weights:        m.weights,
	})
}

// UnmarshalModel restores a text model from JSON bytes.
func UnmarshalModel(data []byte) (*TextModel, error) {
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, err
	}
	if mf.Version != modelVersion {
		return nil, fmt.Errorf("%w: model version %q, expected %q",
			sequences.ErrConfig, mf.Version, modelVersion)
	}
	pairs := make([][2]string, len(mf.Transitions))
	for i, t := range mf.Transitions {
		if t[0] < 0 || t[0] >= len(mf.States) || t[1] < 0 || t[1] >= len(mf.States) {
			return nil, fmt.Errorf("%w: transition %v references unknown state index",
				sequences.ErrConfig, t)
		}
		pairs[i] = [2]string{mf.States[t[0]], mf.States[t[1]]}
	}
	ss, err := sequences.NewStateSpace(mf.States, mf.StartState, mf.StopState, pairs)
	if err != nil {
		return nil, err
	}
	fe := NewFeatureEncoder(ss, Featurizer[map[string]float64](DictFeaturizer{}),
		indexer.Of(mf.NodePredicates), indexer.Of(mf.EdgePredicates))
	we := NewWeightsEncoder(ss, fe.NodePredicates().Size(), fe.EdgePredicates().Size())
	if len(mf.Weights) != we.NumWeights() {
		return nil, fmt.Errorf("%w: model has %d weights, layout needs %d",
			sequences.ErrDimension, len(mf.Weights), we.NumWeights())
	}
	return NewModel(fe, we, linalg.Dense(mf.Weights)), nil
}

// SaveModel writes a text model to path as JSON.
func SaveModel(m *TextModel, path string) error {
	data, err := MarshalModel(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadModel reads a text model from path.
func LoadModel(path string) (*TextModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalModel(data)
}
