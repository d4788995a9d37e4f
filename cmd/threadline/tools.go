package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jxucoder/threadline/internal/config"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect or publish the assistant's tool definitions",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the tool definitions as JSON, or just their names",
	RunE:  runToolsList,
}

var toolsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replace the assistant's tools with the local definitions",
	RunE:  runToolsSync,
}

var toolNamesOnly bool

func init() {
	toolsListCmd.Flags().BoolVar(&toolNamesOnly, "names", false, "print only the tool names, one per line")
	toolsCmd.AddCommand(toolsListCmd, toolsSyncCmd)
	rootCmd.AddCommand(toolsCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	stack, err := buildSearch(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer stack.Close()

	if toolNamesOnly {
		for _, name := range stack.registry.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stack.registry.Definitions())
}

func runToolsSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	stack, err := buildSearch(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer stack.Close()

	defs := stack.registry.Definitions()
	if err := newAssistantService(cfg).SyncTools(cmd.Context(), cfg.AssistantID, defs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d tool(s) to assistant %s\n", len(defs), cfg.AssistantID)
	return nil
}
