package tools

import (
	"context"

	"github.com/jxucoder/threadline/internal/search"
)

// Searcher is the search capability behind the web_search tool.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

// WebSearch returns the web_search tool backed by s.
func WebSearch(s Searcher) Tool {
	return New("web_search",
		"Search the web for current information. Returns ranked results and a synthesized answer.",
		func(ctx context.Context, q search.Query) (any, error) {
			return s.Search(ctx, q)
		})
}
