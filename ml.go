// Package ml tags label sequences with a linear-chain CRF.
//
// A trained model assigns a label to each position of an observation
// sequence, where observations arrive as pre-extracted feature dicts:
//
//	tagger, _ := ml.Load("model.json")
//	labels, _ := tagger.Tag(features)
package ml

import (
	"fmt"

	"github.com/codeaudit/ml-1/crf"
)

// Tagger wraps a trained CRF model for string-labeled sequences.
type Tagger struct {
	model *crf.TextModel
}

// Train fits a tagger on labeled sequences.
func Train(corpus []crf.LabeledSequence, config crf.TrainerConfig) (*Tagger, error) {
	model, err := crf.Train(corpus, config)
	if err != nil {
		return nil, fmt.Errorf("ml: %w", err)
	}
	return &Tagger{model: model}, nil
}

// Load reads a model file written by Save.
func Load(path string) (*Tagger, error) {
	model, err := crf.LoadModel(path)
	if err != nil {
		return nil, fmt.Errorf("ml: %w", err)
	}
	return &Tagger{model: model}, nil
}

// Save writes the model to path as JSON.
func (t *Tagger) Save(path string) error {
	if err := crf.SaveModel(t.model, path); err != nil {
		return fmt.Errorf("ml: %w", err)
	}
	return nil
}

// SetInferenceMode switches between Viterbi and MaxToken decoding.
func (t *Tagger) SetInferenceMode(mode crf.InferenceMode) {
	t.model.SetInferenceMode(mode)
}

// Model exposes the underlying CRF model.
func (t *Tagger) Model() *crf.TextModel { return t.model }

// Tag labels one observation sequence. The start and stop sentinels
// are stripped, so the result has one label per observation.
func (t *Tagger) Tag(features []map[string]float64) ([]string, error) {
	path, err := t.model.BestGuess(features)
	if err != nil {
		return nil, fmt.Errorf("ml: %w", err)
	}
	return path[1 : len(path)-1], nil
}
