package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jxucoder/threadline/internal/search"
)

var (
	searchMaxResults int
	searchDomains    []string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a web search through the server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchMaxResults, "max-results", "n", 0, "maximum number of results")
	searchCmd.Flags().StringSliceVar(&searchDomains, "domain", nil, "only return results from these domains")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	resp, err := newAPIClient().Search(cmd.Context(), search.Query{
		Query:          strings.Join(args, " "),
		MaxResults:     searchMaxResults,
		IncludeDomains: searchDomains,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Answer != nil && *resp.Answer != "" {
		fmt.Fprintf(out, "%s\n\n", *resp.Answer)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%d. %s (%.2f)\n   %s\n", i+1, r.Title, r.Score, r.URL)
	}
	return nil
}
