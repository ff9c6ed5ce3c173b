package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	ml "github.com/codeaudit/ml-1"
	"github.com/codeaudit/ml-1/crf"
	"github.com/codeaudit/ml-1/internal/dataset"
)

func (c *CLI) newTagCommand() *cobra.Command {
	var maxToken bool

	cmd := &cobra.Command{
		Use:   "tag <modelfile> <input>",
		Short: "Tag sequences with a trained model",
		Args:  cobra.ExactArgs(2),
		Example: `  crf tag model.json input.json
  crf tag model.json input.json --max-token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath, inputPath := args[0], args[1]

			start := time.Now()
			tagger, err := ml.Load(modelPath)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "path", modelPath, "duration", time.Since(start))
			if maxToken {
				tagger.SetInferenceMode(crf.MaxToken)
			}

			seqs, err := dataset.Load(inputPath)
			if err != nil {
				return err
			}

			results := make([][]string, len(seqs))
			start = time.Now()
			for i, s := range seqs {
				if results[i], err = tagger.Tag(s.Features); err != nil {
					return fmt.Errorf("sequence %d: %w", i, err)
				}
			}
			slog.Debug("Tagging completed", "sequences", len(seqs), "duration", time.Since(start))

			output, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}

	cmd.Flags().BoolVar(&maxToken, "max-token", false, "Decode with max-token marginals instead of Viterbi")
	return cmd
}
