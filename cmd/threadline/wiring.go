package main

import (
	"fmt"
	"log/slog"

	"github.com/jxucoder/threadline/internal/assistant"
	"github.com/jxucoder/threadline/internal/config"
	"github.com/jxucoder/threadline/internal/search"
	"github.com/jxucoder/threadline/internal/tools"
)

// searchStack is the search client and the tool registry built on it.
type searchStack struct {
	client   *search.Client
	registry *tools.Registry
	cache    *search.MemoryCache
}

func (s *searchStack) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func buildSearch(cfg *config.Config, logger *slog.Logger) (*searchStack, error) {
	opts := search.Options{
		APIKey: cfg.TavilyAPIKey,
		RPS:    cfg.SearchRPS,
		Logger: logger,
	}

	var cache *search.MemoryCache
	if cfg.SearchCacheBytes > 0 {
		c, err := search.NewMemoryCache(cfg.SearchCacheBytes)
		if err != nil {
			return nil, fmt.Errorf("creating search cache: %w", err)
		}
		cache = c
		opts.Cache = c
	}

	client := search.NewClient(opts)
	reg, err := tools.NewRegistry(tools.WebSearch(client))
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return &searchStack{client: client, registry: reg, cache: cache}, nil
}

func newAssistantService(cfg *config.Config) *assistant.OpenAIService {
	return assistant.NewOpenAIService(assistant.OpenAIOptions{
		APIKey:       cfg.OpenAIAPIKey,
		Organization: cfg.OpenAIOrgID,
		BaseURL:      cfg.OpenAIBaseURL,
	})
}
