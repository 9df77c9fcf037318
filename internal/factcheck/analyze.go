package factcheck

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

// minCredibleSourcesForVerified and minCredibilityForVerified are the
// heuristic-fallback thresholds for a "verified" verdict: at least
// this many sources above this credibility, with a mean relevance above
// minRelevanceForVerified.
const (
	minCredibleSourcesForVerified = 2
	minCredibilityForVerified     = 0.7
	minRelevanceForVerified       = 0.6
	heuristicConfidenceCap        = 0.8
)

type llmVerdict struct {
	Status       string   `json:"status"`
	Confidence   float64  `json:"confidence"`
	Explanation  string   `json:"explanation"`
	Alternatives []string `json:"alternatives"`
}

// AnalyzeClaim produces a verdict for claim given its gathered sources,
// preferring an LLM pass and falling back to a credibility/relevance
// heuristic when the LLM is unavailable or its response cannot be parsed.
func AnalyzeClaim(ctx domain.Context, llm domain.LLMClient, model string, claim domain.FactualClaim, sources []domain.SourceReference, llmAvailable bool) domain.FactCheckResult {
	if llmAvailable && llm != nil {
		if result, ok := analyzeLLM(ctx, llm, model, claim, sources); ok {
			metrics.FactCheckVerdictsTotal.WithLabelValues(string(result.Status)).Inc()
			return result
		}
	}
	result := analyzeHeuristic(claim, sources)
	metrics.FactCheckVerdictsTotal.WithLabelValues(string(result.Status)).Inc()
	return result
}

func analyzeLLM(ctx domain.Context, llm domain.LLMClient, model string, claim domain.FactualClaim, sources []domain.SourceReference) (domain.FactCheckResult, bool) {
	var sb strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&sb, "%d. [%s, credibility %.2f] %s\n", i+1, s.Domain, s.Credibility, s.Snippet)
	}

	prompt := fmt.Sprintf(
		"Claim: %q\n\nSources:\n%s\n"+
			`Respond with JSON: {"status" (one of verified|disputed|unverified|false|misleading),"confidence" (0-1),"explanation","alternatives":[string]}.`,
		claim.Text, sb.String())

	resp, err := llm.Chat(ctx, domain.ChatRequest{
		Model:       model,
		Temperature: 0,
		MaxTokens:   512,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are a careful fact-checker. Weigh source credibility over quantity. Respond with JSON only."},
			{Role: domain.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return domain.FactCheckResult{}, false
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &v); err != nil {
		return domain.FactCheckResult{}, false
	}
	status := domain.VerificationStatus(v.Status)
	if !validStatus(status) {
		return domain.FactCheckResult{}, false
	}

	return domain.FactCheckResult{
		ClaimID:      claim.ID,
		Status:       status,
		Confidence:   clamp01(v.Confidence),
		Sources:      sources,
		Explanation:  v.Explanation,
		Alternatives: v.Alternatives,
		LastChecked:  time.Now(),
	}, true
}

// analyzeHeuristic verifies a claim only when at least two sources clear the
// credibility bar and the mean relevance clears its own bar; otherwise it is
// unverified, never falsely disputed or false, since the heuristic has no
// basis to assert contradiction.
func analyzeHeuristic(claim domain.FactualClaim, sources []domain.SourceReference) domain.FactCheckResult {
	credible := 0
	var sumRelevance, sumCredibility float64
	for _, s := range sources {
		if s.Credibility > minCredibilityForVerified {
			credible++
		}
		sumRelevance += s.Relevance
		sumCredibility += s.Credibility
	}

	result := domain.FactCheckResult{
		ClaimID:     claim.ID,
		Status:      domain.StatusUnverified,
		Sources:     sources,
		Explanation: "insufficient credible, relevant sources to confirm this claim",
		LastChecked: time.Now(),
	}

	if len(sources) == 0 || credible < minCredibleSourcesForVerified {
		result.Confidence = 0.3
		return result
	}

	meanRelevance := sumRelevance / float64(len(sources))
	if meanRelevance <= minRelevanceForVerified {
		result.Confidence = 0.4
		return result
	}

	meanCredibility := sumCredibility / float64(len(sources))
	confidence := meanCredibility * meanRelevance
	if confidence > heuristicConfidenceCap {
		confidence = heuristicConfidenceCap
	}

	result.Status = domain.StatusVerified
	result.Confidence = confidence
	result.Explanation = fmt.Sprintf("%d credible sources corroborate this claim", credible)
	return result
}

func validStatus(s domain.VerificationStatus) bool {
	switch s {
	case domain.StatusVerified, domain.StatusDisputed, domain.StatusUnverified, domain.StatusFalse, domain.StatusMisleading:
		return true
	}
	return false
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
