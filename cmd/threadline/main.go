// threadline - a research assistant that answers with fresh web results.
//
// The server drives an OpenAI assistant run per question and services its
// web_search tool calls through Tavily. The CLI, Slack and Telegram are
// clients that remember the conversation between questions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
	userEmail string
)

var rootCmd = &cobra.Command{
	Use:   "threadline",
	Short: "threadline - ask questions, get answers grounded in the web",
	Long: `threadline runs an OpenAI assistant that can search the web while it answers.

  threadline serve                               Start the server
  threadline ask "what's new in AI?"             Ask a question (continues the conversation)
  threadline ask --new "start over"              Start a fresh conversation
  threadline history                             List conversations
  threadline search "query"                      Run a web search
  threadline tools list|sync                     Show or push tool definitions`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("THREADLINE_SERVER", "http://localhost:7090"), "threadline server URL")
	rootCmd.PersistentFlags().StringVar(&userEmail, "email", os.Getenv("THREADLINE_EMAIL"), "identity sent to the server")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
