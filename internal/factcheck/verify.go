package factcheck

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/cache"
	"github.com/scribeforge/orchestrator/internal/domain"
)

// maxSources is the maximum number of source references gathered per claim:
// DuckDuckGo results first, topped up by the commercial provider.
const maxSources = 5

// minDuckResultsBeforeTopUp is the DuckDuckGo result count below which the
// commercial provider is queried to top up to maxSources.
const minDuckResultsBeforeTopUp = 3

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "of": true, "in": true, "on": true, "to": true, "and": true,
	"that": true, "this": true, "it": true, "for": true, "with": true, "as": true,
	"by": true, "at": true, "be": true, "has": true, "have": true, "had": true,
}

// Verifier gathers credibility-scored sources for a claim via two search
// providers, each behind its own circuit breaker, with a response cache in
// front so re-checking the same claim text never re-queries upstream.
type Verifier struct {
	duck        domain.SearchProvider
	commercial  domain.SearchProvider
	breakers    *breaker.Registry
	cache       *cache.Cache
	credibility *CredibilityTable
	cacheTTL    time.Duration
	claimDelay  time.Duration

	mu      sync.Mutex
	lastAt  time.Time
}

// NewVerifier constructs a Verifier. commercial may report Configured()
// false, in which case it is never queried.
func NewVerifier(duck, commercial domain.SearchProvider, breakers *breaker.Registry, c *cache.Cache, credibility *CredibilityTable, cacheTTL, claimDelay time.Duration) *Verifier {
	return &Verifier{
		duck:        duck,
		commercial:  commercial,
		breakers:    breakers,
		cache:       c,
		credibility: credibility,
		cacheTTL:    cacheTTL,
		claimDelay:  claimDelay,
	}
}

// VerifyClaim gathers up to maxSources SourceReferences for claim, scored by
// credibility and relevance. It never returns an error: an exhausted search
// budget (both providers unavailable or erroring) yields zero sources, which
// the analysis stage treats as insufficient evidence for a positive verdict.
func (v *Verifier) VerifyClaim(ctx domain.Context, claim domain.FactualClaim) []domain.SourceReference {
	v.throttle()

	// The result cache is keyed on the normalized claim text, not the
	// derived search query, so re-checking the same claim always hits even
	// if the query-building heuristics change.
	cacheKey := normalizeClaim(claim.Text)
	if cached, ok := v.getCached(ctx, cacheKey); ok {
		return cached
	}

	query := buildQuery(claim.Text)

	var duckResults, commResults []domain.SearchResult

	if br := v.breakers.Get(v.duck.Name()); br != nil {
		if allowed, _ := br.Allow(); allowed {
			res, err := v.duck.Search(ctx, query, maxSources)
			if err != nil {
				br.RecordFailure()
			} else {
				br.RecordSuccess()
				duckResults = res
			}
		}
	}

	needed := maxSources - len(duckResults)
	configurable, hasConfigGate := v.commercial.(interface{ Configured() bool })
	commercialReady := v.commercial != nil && (!hasConfigGate || configurable.Configured())
	if len(duckResults) < minDuckResultsBeforeTopUp && commercialReady {
		if br := v.breakers.Get(v.commercial.Name()); br != nil {
			if allowed, _ := br.Allow(); allowed {
				res, err := v.commercial.Search(ctx, query, needed)
				if err != nil {
					br.RecordFailure()
				} else {
					br.RecordSuccess()
					commResults = res
				}
			}
		}
	}

	sources := v.mapSources(claim, append(duckResults, commResults...))
	v.setCached(ctx, cacheKey, sources)
	return sources
}

// normalizeClaim lowercases a claim and collapses its whitespace into the
// canonical form the verification cache is keyed on.
func normalizeClaim(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// VerifyClaims runs VerifyClaim for every claim concurrently, bounded by
// errgroup.SetLimit so the fan-out never exceeds the search providers'
// practical concurrency.
func (v *Verifier) VerifyClaims(ctx domain.Context, claims []domain.FactualClaim) map[string][]domain.SourceReference {
	results := make(map[string][]domain.SourceReference, len(claims))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(3)

	for _, claim := range claims {
		claim := claim
		g.Go(func() error {
			sources := v.VerifyClaim(ctx, claim)
			mu.Lock()
			results[claim.ID] = sources
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// throttle enforces a minimum delay between successive upstream queries,
// an inter-claim rate courtesy to the free DuckDuckGo endpoint.
func (v *Verifier) throttle() {
	if v.claimDelay <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if wait := v.claimDelay - time.Since(v.lastAt); wait > 0 {
		time.Sleep(wait)
	}
	v.lastAt = time.Now()
}

func (v *Verifier) mapSources(claim domain.FactualClaim, raw []domain.SearchResult) []domain.SourceReference {
	claimWords := significantWords(claim.Text)

	refs := make([]domain.SourceReference, 0, len(raw))
	for _, r := range raw {
		dom := DomainFromURL(r.URL)
		refs = append(refs, domain.SourceReference{
			Title:       r.Title,
			URL:         r.URL,
			Domain:      dom,
			Credibility: v.credibility.Score(dom),
			Relevance:   relevance(claimWords, r.Snippet),
			Snippet:     r.Snippet,
		})
		if len(refs) >= maxSources {
			break
		}
	}
	return refs
}

func (v *Verifier) getCached(ctx domain.Context, claimKey string) ([]domain.SourceReference, bool) {
	fp := cache.Fingerprint{WorkerKind: domain.WorkerFactChecker, Model: "factcheck-verify", UserPrompt: claimKey}
	raw, ok := v.cache.Get(ctx, domain.WorkerFactChecker, fp)
	if !ok {
		return nil, false
	}
	return decodeSources(raw), true
}

func (v *Verifier) setCached(ctx domain.Context, claimKey string, sources []domain.SourceReference) {
	fp := cache.Fingerprint{WorkerKind: domain.WorkerFactChecker, Model: "factcheck-verify", UserPrompt: claimKey}
	v.cache.Set(ctx, fp, encodeSources(sources), v.cacheTTL)
}

// buildQuery strips stop words and keeps the top 5 remaining tokens longer
// than 3 characters, the high-signal search terms for a claim.
func buildQuery(claimText string) string {
	var tokens []string
	for _, w := range strings.Fields(claimText) {
		w = strings.Trim(strings.ToLower(w), ".,!?\"'():;")
		if len(w) <= 3 || stopWords[w] {
			continue
		}
		tokens = append(tokens, w)
		if len(tokens) >= 5 {
			break
		}
	}
	if len(tokens) == 0 {
		return claimText
	}
	return strings.Join(tokens, " ")
}

func significantWords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?\"'():;")
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

// relevance is the fraction of a claim's significant words present in a
// source snippet, clamped to [0,1].
func relevance(claimWords []string, snippet string) float64 {
	if len(claimWords) == 0 {
		return 0
	}
	lower := strings.ToLower(snippet)
	hits := 0
	for _, w := range claimWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return clamp01(float64(hits) / float64(len(claimWords)))
}

func encodeSources(sources []domain.SourceReference) string {
	b, _ := json.Marshal(sources)
	return string(b)
}

func decodeSources(raw string) []domain.SourceReference {
	var sources []domain.SourceReference
	_ = json.Unmarshal([]byte(raw), &sources)
	return sources
}
