package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	promptsCmd = &cobra.Command{
		Use:   "prompts",
		Short: "Inspect the prompt registry",
	}

	promptsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered prompt templates",
		RunE:  runPromptsList,
	}

	promptsShowCmd = &cobra.Command{
		Use:   "show <key>",
		Short: "Show one prompt template",
		Args:  cobra.ExactArgs(1),
		RunE:  runPromptsShow,
	}
)

func runPromptsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.registry.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%-16s %s (model=%s, temp=%g)\n", entry.PromptKey, entry.Title, entry.Model, entry.Temperature)
	}
	return nil
}

func runPromptsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entry, err := a.registry.Get(args[0])
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("prompt %q not found", args[0])
	}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
