// Package search is the web search adapter used by the web_search tool and
// the standalone search endpoint. It talks to the Tavily search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the Tavily search API.
	DefaultEndpoint = "https://api.tavily.com/search"

	// DefaultMaxResults is used when a query does not set MaxResults.
	DefaultMaxResults = 3

	// CacheControlSuccess is sent with successful search responses.
	CacheControlSuccess = "s-maxage=600, stale-while-revalidate=1200"
	// CacheControlError is sent with failed search responses.
	CacheControlError = "no-cache"

	successTTL = 600 * time.Second
)

var (
	// ErrNotConfigured is returned when no provider API key is set.
	ErrNotConfigured = errors.New("Tavily API key missing")
	// ErrQueryRequired is returned for an empty query.
	ErrQueryRequired = errors.New("query is required")
)

// Query is a search request.
type Query struct {
	Query          string   `json:"query" jsonschema_description:"The search query."`
	MaxResults     int      `json:"max_results,omitempty" jsonschema_description:"Maximum number of results (default 3)."`
	IncludeDomains []string `json:"include_domains,omitempty" jsonschema_description:"Only return results from these domains."`
}

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the normalized provider response. Answer is nil when the
// provider did not synthesize one.
type Response struct {
	Results []Result `json:"results"`
	Answer  *string  `json:"answer"`
}

// ProviderError is a non-2xx response from the search provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tavily API error (%d): %s", e.StatusCode, e.Body)
}

// CacheControl returns the Cache-Control directive for a search outcome.
func CacheControl(err error) string {
	if err != nil {
		return CacheControlError
	}
	return CacheControlSuccess
}

// Cache stores encoded responses. MemoryCache satisfies it.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
}

// Options configures a Client.
type Options struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
	// Cache is optional; nil disables response caching.
	Cache Cache
	// RPS limits outbound requests; 0 disables limiting.
	RPS    float64
	Logger *slog.Logger
}

// Client calls the Tavily search API.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
	cache    Cache
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient creates a search client. A missing API key is reported by Search,
// not here, so the server can start without search configured.
func NewClient(opts Options) *Client {
	c := &Client{
		apiKey:   opts.APIKey,
		endpoint: opts.Endpoint,
		client:   opts.HTTPClient,
		cache:    opts.Cache,
		logger:   opts.Logger,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type tavilyResponse struct {
	Results []Result `json:"results"`
	Answer  *string  `json:"answer"`
}

// Search runs q against the provider.
func (c *Client) Search(ctx context.Context, q Query) (*Response, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return nil, ErrQueryRequired
	}
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}

	key := cacheKey(q)
	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			var resp Response
			if err := json.Unmarshal(data, &resp); err == nil {
				return &resp, nil
			}
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for search rate limit: %w", err)
		}
	}

	resp, err := c.do(ctx, q)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			c.cache.Set(key, data, successTTL)
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, q Query) (*Response, error) {
	reqBody := tavilyRequest{
		APIKey:        c.apiKey,
		Query:         q.Query,
		MaxResults:    q.MaxResults,
		IncludeAnswer: true,
	}
	if len(q.IncludeDomains) > 0 {
		reqBody.IncludeDomains = q.IncludeDomains
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tavily: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tavily response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		c.logger.Warn("search provider error", "status", httpResp.StatusCode, "duration", time.Since(start))
		return nil, &ProviderError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result tavilyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing tavily response: %w", err)
	}
	if result.Results == nil {
		result.Results = []Result{}
	}
	c.logger.Debug("search done", "results", len(result.Results), "duration", time.Since(start))
	return &Response{Results: result.Results, Answer: result.Answer}, nil
}

func cacheKey(q Query) string {
	domains := make([]string, len(q.IncludeDomains))
	for i, d := range q.IncludeDomains {
		domains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	return fmt.Sprintf("%s|%d|%s", strings.ToLower(q.Query), q.MaxResults, strings.Join(domains, ","))
}
