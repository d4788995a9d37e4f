package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jxucoder/threadline/internal/session"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [conversation]",
	Short: "List conversations, or print one conversation's transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "only show the last n turns")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openLocalStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		return listConversations(store)
	}

	key := args[0]
	if !strings.Contains(key, ":") {
		key = cliKey(key)
	}
	turns, err := store.Turns(key, historyLimit)
	if err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}
	if len(turns) == 0 {
		if _, err := store.GetConversation(key); errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("no conversation named %q", args[0])
		}
	}
	for _, t := range turns {
		fmt.Printf("[%s] %s\n%s\n\n", t.CreatedAt.Local().Format("2006-01-02 15:04"), roleLabel(t.Role), t.Content)
	}
	return nil
}

func listConversations(store *session.Store) error {
	convs, err := store.ListConversations()
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tSESSION\tUPDATED")
	for _, c := range convs {
		sid := c.SessionID
		if sid == "" {
			sid = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", strings.TrimPrefix(c.Key, "cli:"), sid, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func roleLabel(r session.Role) string {
	switch r {
	case session.RoleUser:
		return "you"
	case session.RoleAssistant:
		return "assistant"
	case session.RoleError:
		return "❌ error"
	default:
		return string(r)
	}
}
