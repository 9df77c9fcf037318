package search

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// Commercial queries a SERP-API-shaped commercial search endpoint, used to
// top up results when DuckDuckGo returns fewer than 3.
type Commercial struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewCommercial constructs a Commercial provider. An empty apiKey means the
// provider is unconfigured; callers should skip it rather than calling
// Search (mirrors the fact-checker's "if a key is configured" gate).
func NewCommercial(baseURL, apiKey string, timeout time.Duration) *Commercial {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Commercial{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Name identifies this provider for circuit-breaker and metrics labeling.
func (c *Commercial) Name() string { return "search:serp" }

// Configured reports whether an API key is set.
func (c *Commercial) Configured() bool { return c.apiKey != "" }

type commercialResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Source  string `json:"source"`
		Date    string `json:"date"`
	} `json:"organic_results"`
}

// Search queries the commercial API for query, returning up to 3 organic
// results (never more, by contract, regardless of limit).
func (c *Commercial) Search(ctx domain.Context, query string, limit int) ([]domain.SearchResult, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("op=commercial.search: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("op=commercial.search: build request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Dependency: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &domain.UpstreamError{Dependency: c.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.UpstreamError{Dependency: c.Name(), Err: err}
	}

	var parsed commercialResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &domain.UpstreamError{Dependency: c.Name(), Err: err}
	}

	max := 3
	if limit > 0 && limit < max {
		max = limit
	}
	var results []domain.SearchResult
	for i, r := range parsed.OrganicResults {
		if i >= max {
			break
		}
		results = append(results, domain.SearchResult{
			Title:       r.Title,
			URL:         r.Link,
			Snippet:     r.Snippet,
			Source:      r.Source,
			PublishDate: r.Date,
		})
	}
	return results, nil
}
