// Package search implements the two outbound search providers the
// fact-checker queries: DuckDuckGo's instant-answer endpoint (always
// queried first) and a commercial organic-search API used as a top-up
// when DuckDuckGo returns too few results.
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

// DuckDuckGo queries the instant-answer JSON endpoint.
type DuckDuckGo struct {
	baseURL string
	hc      *http.Client
}

// NewDuckDuckGo constructs a DuckDuckGo provider against baseURL (e.g.
// https://api.duckduckgo.com/).
func NewDuckDuckGo(baseURL string, timeout time.Duration) *DuckDuckGo {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DuckDuckGo{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Name identifies this provider for circuit-breaker and metrics labeling.
func (d *DuckDuckGo) Name() string { return "search:duckduckgo" }

type duckDuckGoResponse struct {
	AbstractText  string `json:"AbstractText"`
	Heading       string `json:"Heading"`
	AbstractURL   string `json:"AbstractURL"`
	AbstractSource string `json:"AbstractSource"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search queries DuckDuckGo's instant-answer endpoint for query, returning
// at most limit results: the abstract (if present) followed by up to 3
// related topics.
func (d *DuckDuckGo) Search(ctx domain.Context, query string, limit int) ([]domain.SearchResult, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("op=duckduckgo.search: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("op=duckduckgo.search: build request: %w", err)
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Dependency: d.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &domain.UpstreamError{Dependency: d.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.UpstreamError{Dependency: d.Name(), Err: err}
	}

	var parsed duckDuckGoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &domain.UpstreamError{Dependency: d.Name(), Err: err}
	}

	var results []domain.SearchResult
	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		results = append(results, domain.SearchResult{
			Title:   firstNonEmpty(parsed.Heading, parsed.AbstractSource),
			URL:     parsed.AbstractURL,
			Snippet: parsed.AbstractText,
			Source:  parsed.AbstractSource,
		})
	}
	for i, rt := range parsed.RelatedTopics {
		if i >= 3 {
			break
		}
		if rt.FirstURL == "" || rt.Text == "" {
			continue
		}
		results = append(results, domain.SearchResult{
			Title:   rt.Text,
			URL:     rt.FirstURL,
			Snippet: rt.Text,
		})
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
