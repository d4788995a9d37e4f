package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jxucoder/threadline/internal/config"
	"github.com/jxucoder/threadline/internal/session"
)

var (
	askConversation string
	askNew          bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question, continuing the current conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "conversation name (default \"default\")")
	askCmd.Flags().BoolVar(&askNew, "new", false, "start a new conversation")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	store, err := openLocalStore()
	if err != nil {
		return err
	}
	defer store.Close()

	relay := session.NewRelay(store, newAPIClient(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	name := askConversation
	switch {
	case askNew && name == "":
		name = uuid.New().String()[:8]
		fmt.Fprintf(cmd.ErrOrStderr(), "Started conversation %s\n", name)
	case name == "":
		name = "default"
	}
	key := cliKey(name)
	if askNew && askConversation != "" {
		if err := relay.Reset(key); err != nil {
			return fmt.Errorf("resetting conversation: %w", err)
		}
	}

	res, err := relay.Send(cmd.Context(), key, question)
	if err != nil {
		return fmt.Errorf("%s\n(%w)", session.UserMessage(err), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
	return nil
}

func openLocalStore() (*session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	store, err := session.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	return store, nil
}

func cliKey(name string) string {
	return "cli:" + name
}
