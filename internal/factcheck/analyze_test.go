package factcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scribeforge/orchestrator/internal/domain"
)

type fakeAnalyzeLLM struct {
	content string
	err     error
}

func (f fakeAnalyzeLLM) Chat(_ domain.Context, _ domain.ChatRequest) (domain.ChatResponse, error) {
	if f.err != nil {
		return domain.ChatResponse{}, f.err
	}
	return domain.ChatResponse{Content: f.content}, nil
}

func TestAnalyzeClaim_LLMPathParsesVerdict(t *testing.T) {
	llm := fakeAnalyzeLLM{content: `{"status":"verified","confidence":0.9,"explanation":"backed by two credible sources","alternatives":[]}`}
	claim := domain.FactualClaim{ID: "claim-1", Text: "x"}
	sources := []domain.SourceReference{{Domain: "reuters.com", Credibility: 0.9}}

	result := AnalyzeClaim(context.Background(), llm, "gpt-4o-mini", claim, sources, true)
	assert.Equal(t, domain.StatusVerified, result.Status)
	assert.Equal(t, 0.9, result.Confidence)
}

func TestAnalyzeClaim_FallsBackToHeuristicOnLLMError(t *testing.T) {
	llm := fakeAnalyzeLLM{err: errors.New("boom")}
	claim := domain.FactualClaim{ID: "claim-1", Text: "x"}
	sources := []domain.SourceReference{
		{Domain: "nature.com", Credibility: 0.95, Relevance: 0.8},
		{Domain: "reuters.com", Credibility: 0.9, Relevance: 0.7},
	}
	result := AnalyzeClaim(context.Background(), llm, "gpt-4o-mini", claim, sources, true)
	assert.Equal(t, domain.StatusVerified, result.Status)
}

func TestAnalyzeHeuristic_UnverifiedWithInsufficientSources(t *testing.T) {
	claim := domain.FactualClaim{ID: "claim-1", Text: "x"}
	result := analyzeHeuristic(claim, []domain.SourceReference{{Domain: "example.com", Credibility: 0.5, Relevance: 0.9}})
	assert.Equal(t, domain.StatusUnverified, result.Status)
}

func TestAnalyzeHeuristic_UnverifiedWithLowRelevance(t *testing.T) {
	claim := domain.FactualClaim{ID: "claim-1", Text: "x"}
	sources := []domain.SourceReference{
		{Domain: "nature.com", Credibility: 0.95, Relevance: 0.1},
		{Domain: "reuters.com", Credibility: 0.9, Relevance: 0.2},
	}
	result := analyzeHeuristic(claim, sources)
	assert.Equal(t, domain.StatusUnverified, result.Status)
}

func TestAnalyzeHeuristic_ConfidenceCappedAtPointEight(t *testing.T) {
	claim := domain.FactualClaim{ID: "claim-1", Text: "x"}
	sources := []domain.SourceReference{
		{Domain: "nature.com", Credibility: 0.99, Relevance: 0.99},
		{Domain: "reuters.com", Credibility: 0.99, Relevance: 0.99},
	}
	result := analyzeHeuristic(claim, sources)
	assert.LessOrEqual(t, result.Confidence, heuristicConfidenceCap)
}
