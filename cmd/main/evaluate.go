package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"nexuseval/pkg/eval"
)

var (
	evaluateDataset   string
	evaluateOutDir    string
	evaluateDelimiter string

	evaluateCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Run a tabular bot comparison over a dataset file",
		Long: `Reads a JSON dataset of rows (query, per-bot answers, per-bot contexts,
optional ground truth), evaluates every bot, and prints the leaderboard.
With --out, writes per-query metrics, summaries, and the leaderboard as
JSON files.`,
		RunE: runEvaluate,
	}
)

func init() {
	evaluateCmd.Flags().StringVar(&evaluateDataset, "dataset", "", "path to the dataset JSON file (required)")
	evaluateCmd.Flags().StringVar(&evaluateOutDir, "out", "", "directory for JSON exports")
	evaluateCmd.Flags().StringVar(&evaluateDelimiter, "context-delimiter", "", "explicit context chunk delimiter")
	_ = evaluateCmd.MarkFlagRequired("dataset")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(evaluateDataset)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	var rows []map[string]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("dataset must be a JSON array of row objects: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("dataset is empty")
	}

	headers := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		headers = append(headers, col)
	}
	cols, err := eval.DiscoverColumns(headers)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dataset := eval.BuildDataset(rows, cols, evaluateDelimiter)
	result := a.tabular.Run(cmd.Context(), dataset)
	if result.Error != "" {
		return fmt.Errorf("evaluation failed: %s", result.Error)
	}

	printLeaderboard(result)

	if evaluateOutDir != "" {
		if err := writeExports(evaluateOutDir, result); err != nil {
			return err
		}
		fmt.Printf("Exports written to %s\n", evaluateOutDir)
	}
	return nil
}

func printLeaderboard(result eval.DatasetResult) {
	fmt.Println("Leaderboard:")
	for i, entry := range result.Leaderboard {
		fmt.Printf("  %d. %-20s avg_rqs=%.4f correctness=%.4f faithfulness=%.4f\n",
			i+1, entry.BotID, entry.AvgRQS, entry.AvgAnswerCorrectness, entry.AvgFaithfulness)
	}
	if result.Winner != "" {
		fmt.Printf("Winner: %s\n", result.Winner)
	} else {
		fmt.Println("Winner: none (no bot produced results)")
	}
}

func writeExports(dir string, result eval.DatasetResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	exports := map[string]interface{}{
		"bot_metrics.json": result.BotMetrics,
		"summaries.json":   result.Summaries,
		"leaderboard.json": result.Leaderboard,
	}
	for name, payload := range exports {
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
