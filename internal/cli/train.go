package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	ml "github.com/codeaudit/ml-1"
	"github.com/codeaudit/ml-1/crf"
	"github.com/codeaudit/ml-1/internal/dataset"
)

// trainFileConfig is the TOML layout of a trainer config file. Fields
// absent from the file keep the defaults; a field set to zero applies
// zero.
type trainFileConfig struct {
	C1            *float64 `toml:"c1"`
	C2            *float64 `toml:"c2"`
	MaxIterations *int     `toml:"max_iterations"`
	Epsilon       *float64 `toml:"epsilon"`
	Workers       *int     `toml:"workers"`
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "train <corpus> <modelfile>",
		Short: "Train a CRF tagger on a labeled corpus",
		Args:  cobra.ExactArgs(2),
		Example: `  crf train corpus.json model.json
  crf train corpus.json model.json --config trainer.toml -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			corpusPath, modelPath := args[0], args[1]

			config := crf.DefaultTrainerConfig()
			if configPath != "" {
				var fc trainFileConfig
				if _, err := toml.DecodeFile(configPath, &fc); err != nil {
					return fmt.Errorf("config %s: %w", configPath, err)
				}
				applyFileConfig(&config, fc)
				slog.Debug("Trainer config loaded", "path", configPath)
			}

			seqs, err := dataset.Load(corpusPath)
			if err != nil {
				return err
			}
			corpus := make([]crf.LabeledSequence, 0, len(seqs))
			for i, s := range seqs {
				if len(s.Labels) == 0 {
					return fmt.Errorf("corpus %s: sequence %d has no labels", corpusPath, i)
				}
				corpus = append(corpus, crf.LabeledSequence{Features: s.Features, Labels: s.Labels})
			}

			slog.Info("Training CRF tagger", "corpus", corpusPath, "sequences", len(corpus), "output", modelPath)
			start := time.Now()
			tagger, err := ml.Train(corpus, config)
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))
			if err := tagger.Save(modelPath); err != nil {
				return err
			}
			slog.Info("Model saved", "path", modelPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to TOML trainer config")
	return cmd
}

func applyFileConfig(config *crf.TrainerConfig, fc trainFileConfig) {
	if fc.C1 != nil {
		config.C1 = *fc.C1
	}
	if fc.C2 != nil {
		config.C2 = *fc.C2
	}
	if fc.MaxIterations != nil {
		config.MaxIterations = *fc.MaxIterations
	}
	if fc.Epsilon != nil {
		config.Epsilon = *fc.Epsilon
	}
	if fc.Workers != nil {
		config.Workers = *fc.Workers
	}
}
