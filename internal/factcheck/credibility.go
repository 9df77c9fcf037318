package factcheck

import (
	"net/url"
	"strings"
	"sync"
)

// CredibilityTable scores a source domain in [0,1] from a fixed table of
// exact-match domains, domain-suffix rules, and a default, with the
// computed value for any domain memoized on first use. Overrides
// (the trustedDomains configuration option) take precedence over the
// built-in table.
type CredibilityTable struct {
	exact     map[string]float64
	overrides map[string]float64

	mu    sync.Mutex
	cache map[string]float64
}

// NewCredibilityTable constructs a table with the built-in trusted-domain
// tiers plus any caller-supplied overrides.
func NewCredibilityTable(overrides map[string]float64) *CredibilityTable {
	return &CredibilityTable{
		exact: map[string]float64{
			"nature.com":       0.95,
			"sciencedirect.com": 0.93,
			"reuters.com":       0.9,
			"apnews.com":        0.88,
			"bbc.com":           0.85,
			"nytimes.com":       0.82,
			"wikipedia.org":     0.75,
		},
		overrides: overrides,
		cache:     make(map[string]float64),
	}
}

// Score returns the credibility of domain, computing and memoizing it on
// first use.
func (t *CredibilityTable) Score(domain string) float64 {
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))

	t.mu.Lock()
	if v, ok := t.cache[domain]; ok {
		t.mu.Unlock()
		return v
	}
	t.mu.Unlock()

	score := t.compute(domain)

	t.mu.Lock()
	t.cache[domain] = score
	t.mu.Unlock()
	return score
}

func (t *CredibilityTable) compute(domain string) float64 {
	if v, ok := t.overrides[domain]; ok {
		return v
	}
	if v, ok := t.exact[domain]; ok {
		return v
	}
	switch {
	case strings.HasSuffix(domain, ".gov"):
		return 0.9
	case strings.HasSuffix(domain, ".edu"):
		return 0.85
	case strings.HasSuffix(domain, ".org"):
		return 0.7
	default:
		return 0.5
	}
}

// DomainFromURL extracts the registrable-ish host component from a URL
// string for use as a CredibilityTable key.
func DomainFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}
