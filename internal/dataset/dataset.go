// Package dataset loads sequence corpora for the CLI. A corpus file is
// a JSON array of sequences, each holding per-position feature dicts
// and, for training data, gold labels.
package dataset

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Sequence is one stored sequence. Labels is empty for unlabeled data.
type Sequence struct {
	Features []map[string]float64 `json:"features"`
	Labels   []string             `json:"labels,omitempty"`
}

// Load reads a corpus file.
func Load(path string) ([]Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seqs []Sequence
	if err := json.Unmarshal(data, &seqs); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	for i, s := range seqs {
		if len(s.Labels) > 0 && len(s.Labels) != len(s.Features) {
			return nil, fmt.Errorf("dataset %s: sequence %d has %d labels for %d positions",
				path, i, len(s.Labels), len(s.Features))
		}
	}
	slog.Debug("Loaded dataset", "path", path, "sequences", len(seqs))
	return seqs, nil
}
