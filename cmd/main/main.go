package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nexuseval/internal/logging"
)

var (
	debugFlag bool

	rootCmd = &cobra.Command{
		Use:   "nexuseval",
		Short: "NexusEval - RAG and structured-output evaluation service",
		Long: `NexusEval evaluates the quality of RAG pipeline and structured-output
agent responses: per-query and aggregate scores, failure classification,
bot leaderboards, and a tenant-scoped audit trail.`,
	}
)

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(rotateKeyCmd)
	rootCmd.AddCommand(promptsCmd)

	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsShowCmd)
}

func initLogging() {
	logging.Initialize(debugFlag || viper.GetBool("debug"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
