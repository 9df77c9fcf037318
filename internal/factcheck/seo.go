package factcheck

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// maxSEOSuggestions caps the LLM pass's output.
const maxSEOSuggestions = 8

// longContentThreshold is the content length above which the heuristic
// fallback recommends adding subheadings.
const longContentThreshold = 1000

type llmSuggestion struct {
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Implementation string `json:"implementation"`
	Priority       string `json:"priority"`
	EstimatedImpact string `json:"estimated_impact"`
}

// SuggestSEO proposes up to 8 actionable SEO improvements informed by the
// verified claims and their sources, preferring an LLM pass with a
// heuristic fallback.
func SuggestSEO(ctx domain.Context, llm domain.LLMClient, model string, content string, results []domain.FactCheckResult, llmAvailable bool) []domain.SEOSuggestion {
	if llmAvailable && llm != nil {
		if suggestions, ok := suggestSEOLLM(ctx, llm, model, content, results); ok {
			return suggestions
		}
	}
	return suggestSEOHeuristic(content, results)
}

func suggestSEOLLM(ctx domain.Context, llm domain.LLMClient, model string, content string, results []domain.FactCheckResult) ([]domain.SEOSuggestion, bool) {
	var verified []string
	for _, r := range results {
		if r.Status == domain.StatusVerified {
			verified = append(verified, r.ClaimID)
		}
	}

	prompt := fmt.Sprintf(
		"Content (truncated):\n%s\n\nVerified claim ids: %s\n\n"+
			"Propose up to %d SEO improvements. Respond with a JSON array of objects: "+
			`{"kind" (one of internal_link|external_link|keyword|meta|structure),"title","description","implementation","priority" (high|medium|low),"estimated_impact"}.`,
		truncateForPrompt(content, 2000), strings.Join(verified, ","), maxSEOSuggestions)

	resp, err := llm.Chat(ctx, domain.ChatRequest{
		Model:       model,
		Temperature: 0.3,
		MaxTokens:   768,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are an SEO editor. Respond with JSON only."},
			{Role: domain.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, false
	}

	var parsed []llmSuggestion
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Content)), &parsed); err != nil {
		return nil, false
	}
	if len(parsed) > maxSEOSuggestions {
		parsed = parsed[:maxSEOSuggestions]
	}

	suggestions := make([]domain.SEOSuggestion, 0, len(parsed))
	for _, s := range parsed {
		kind := domain.SEOSuggestionKind(s.Kind)
		if !validSEOKind(kind) {
			continue
		}
		priority := domain.SuggestionPriority(s.Priority)
		if !validPriority(priority) {
			priority = domain.PriorityMedium
		}
		suggestions = append(suggestions, domain.SEOSuggestion{
			Kind:            kind,
			Title:           s.Title,
			Description:     s.Description,
			Implementation:  s.Implementation,
			Priority:        priority,
			EstimatedImpact: s.EstimatedImpact,
		})
	}
	if len(suggestions) == 0 {
		return nil, false
	}
	return suggestions, true
}

// suggestSEOHeuristic always returns at least the "link to authoritative
// sources" and "create internal links" suggestions, adding a subheading
// recommendation for long content.
func suggestSEOHeuristic(content string, results []domain.FactCheckResult) []domain.SEOSuggestion {
	suggestions := []domain.SEOSuggestion{
		{
			Kind:            domain.SEOExternalLink,
			Title:           "Link to authoritative sources",
			Description:     "Cite the credible sources that back your verified claims to build topical authority.",
			Implementation:  "Add outbound links to the highest-credibility sources for each verified claim.",
			Priority:        domain.PriorityMedium,
			EstimatedImpact: "moderate improvement to perceived trustworthiness",
		},
		{
			Kind:            domain.SEOInternalLink,
			Title:           "Create internal links",
			Description:     "Link this piece to related content on the same site to strengthen site structure.",
			Implementation:  "Add 2-3 internal links to related articles or pillar pages.",
			Priority:        domain.PriorityLow,
			EstimatedImpact: "minor improvement to crawl depth and dwell time",
		},
	}

	if len(content) > longContentThreshold {
		suggestions = append([]domain.SEOSuggestion{{
			Kind:            domain.SEOStructure,
			Title:           "Add subheadings",
			Description:     "Long-form content without subheadings is harder to scan and ranks worse for featured snippets.",
			Implementation:  "Break the content into sections with descriptive H2/H3 headings every 2-3 paragraphs.",
			Priority:        domain.PriorityHigh,
			EstimatedImpact: "meaningful improvement to readability and snippet eligibility",
		}}, suggestions...)
	}

	return suggestions
}

func validSEOKind(k domain.SEOSuggestionKind) bool {
	switch k {
	case domain.SEOInternalLink, domain.SEOExternalLink, domain.SEOKeyword, domain.SEOMeta, domain.SEOStructure:
		return true
	}
	return false
}

func validPriority(p domain.SuggestionPriority) bool {
	switch p {
	case domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
		return true
	}
	return false
}

func truncateForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
