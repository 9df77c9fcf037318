// Package factcheck implements the fact-check worker: claim
// extraction, parallel source verification, credibility-weighted analysis,
// conflict detection, and SEO suggestions, fused into a structured
// response. This is the one worker with nontrivial external-coordination
// logic and the hard core of this repository alongside the orchestrator.
package factcheck

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

const maxLLMClaims = 10
const maxHeuristicClaims = 8

// scientificTriggers are words whose presence marks a sentence as a
// candidate "scientific" claim under the heuristic extractor.
var scientificTriggers = []string{"study", "research", "survey", "report", "data"}

// assertionTriggers mark a sentence as a candidate "general" claim.
var assertionTriggers = []string{" is ", " are ", " was ", " were ", "according to"}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
var percentPattern = regexp.MustCompile(`\d+(\.\d+)?\s*%`)
var numericPattern = regexp.MustCompile(`\b\d+([.,]\d+)?\b`)
var sentenceSplit = regexp.MustCompile(`(?s)[^.!?]+[.!?]+`)

// ExtractClaims extracts up to 10 candidate factual claims from content,
// preferring an LLM pass and falling back to a heuristic sentence
// classifier when the LLM is unavailable or the caller has no token
// budget left for it.
func ExtractClaims(ctx domain.Context, llm domain.LLMClient, model string, content string, llmAvailable bool) ([]domain.FactualClaim, error) {
	if llmAvailable && llm != nil {
		claims, err := extractClaimsLLM(ctx, llm, model, content)
		if err == nil {
			metrics.FactCheckClaimsTotal.WithLabelValues("llm").Add(float64(len(claims)))
			return claims, nil
		}
	}
	claims := extractClaimsHeuristic(content)
	metrics.FactCheckClaimsTotal.WithLabelValues("heuristic").Add(float64(len(claims)))
	return claims, nil
}

type llmClaim struct {
	Text                 string  `json:"text"`
	Kind                 string  `json:"kind"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
	Start                int     `json:"start"`
	End                  int     `json:"end"`
}

func extractClaimsLLM(ctx domain.Context, llm domain.LLMClient, model string, content string) ([]domain.FactualClaim, error) {
	prompt := fmt.Sprintf(
		"Identify up to %d candidate factual statements in the text below. "+
			"Respond with a JSON array of objects: "+
			`{"text","kind" (one of statistic|historical|scientific|general|opinion),"extraction_confidence" (0-1),"start","end"}.`+
			"\n\nTEXT:\n%s", maxLLMClaims, content)

	resp, err := llm.Chat(ctx, domain.ChatRequest{
		Model:       model,
		Temperature: 0,
		MaxTokens:   1024,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You extract verifiable factual claims from writing for fact-checking. Respond with JSON only."},
			{Role: domain.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed []llmClaim
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("op=factcheck.extract_claims_llm: parse response: %w", err)
	}

	if len(parsed) > maxLLMClaims {
		parsed = parsed[:maxLLMClaims]
	}
	claims := make([]domain.FactualClaim, 0, len(parsed))
	for i, c := range parsed {
		kind := domain.FactualClaimKind(c.Kind)
		if !validClaimKind(kind) {
			kind = domain.ClaimGeneral
		}
		claims = append(claims, domain.FactualClaim{
			ID:                   fmt.Sprintf("claim-%d", i+1),
			Text:                 strings.TrimSpace(c.Text),
			Kind:                 kind,
			ExtractionConfidence: clamp01(c.ExtractionConfidence),
			Position:             domain.ClaimPosition{Start: c.Start, End: c.End},
		})
	}
	return claims, nil
}

func validClaimKind(k domain.FactualClaimKind) bool {
	switch k {
	case domain.ClaimStatistic, domain.ClaimHistorical, domain.ClaimScientific, domain.ClaimGeneral, domain.ClaimOpinion:
		return true
	}
	return false
}

// extractJSONArray trims any leading/trailing prose an LLM may wrap around
// the JSON array it was asked to return.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// extractClaimsHeuristic sentence-splits content and marks a sentence as a
// claim if it matches any trigger, classifying kind by the first
// trigger matched, capped at 8.
func extractClaimsHeuristic(content string) []domain.FactualClaim {
	var claims []domain.FactualClaim
	pos := 0
	for _, sentence := range sentenceSplit.FindAllString(content, -1) {
		start := strings.Index(content[pos:], sentence) + pos
		end := start + len(sentence)
		pos = end

		kind, matched := classifyHeuristic(sentence)
		if !matched {
			continue
		}
		claims = append(claims, domain.FactualClaim{
			ID:                   fmt.Sprintf("claim-%d", len(claims)+1),
			Text:                 strings.TrimSpace(sentence),
			Kind:                 kind,
			ExtractionConfidence: 0.5,
			Position:             domain.ClaimPosition{Start: start, End: end},
		})
		if len(claims) >= maxHeuristicClaims {
			break
		}
	}
	return claims
}

func classifyHeuristic(sentence string) (domain.FactualClaimKind, bool) {
	lower := strings.ToLower(sentence)

	if percentPattern.MatchString(sentence) || numericPattern.MatchString(sentence) {
		return domain.ClaimStatistic, true
	}
	if yearPattern.MatchString(sentence) {
		return domain.ClaimHistorical, true
	}
	for _, t := range scientificTriggers {
		if strings.Contains(lower, t) {
			return domain.ClaimScientific, true
		}
	}
	for _, t := range assertionTriggers {
		if strings.Contains(lower, t) {
			return domain.ClaimGeneral, true
		}
	}
	return "", false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
