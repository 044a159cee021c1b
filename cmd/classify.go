package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"yarn-agent/internal/classifier"
	"yarn-agent/model"
)

var classifyStep string

var classifyCmd = &cobra.Command{
	Use:   "classify TEXT...",
	Short: "Print the intent, sentiment and risk results for one message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyStep, "step", "", "conversation step used as context for intent boosting")
}

func runClassify(cmd *cobra.Command, args []string) error {
	var hint classifier.Hint
	if classifyStep != "" {
		step, ok := model.ParseStep(classifyStep)
		if !ok {
			return fmt.Errorf("unknown step %q", classifyStep)
		}
		hint.Step = step
	}

	ctx := cmd.Context()
	a, err := setup(ctx, quiet)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	text := strings.Join(args, " ")
	out := map[string]model.ClassificationResult{
		"intent":    a.intent.Classify(ctx, text, hint),
		"sentiment": a.sentiment.Classify(ctx, text, hint),
		"risk":      a.risk.Classify(ctx, text, classifier.Hint{}),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
