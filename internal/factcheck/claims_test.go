package factcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

type fakeClaimLLM struct {
	content string
	err     error
}

func (f fakeClaimLLM) Chat(_ domain.Context, _ domain.ChatRequest) (domain.ChatResponse, error) {
	if f.err != nil {
		return domain.ChatResponse{}, f.err
	}
	return domain.ChatResponse{Content: f.content, Model: "gpt-4o-mini"}, nil
}

func TestExtractClaims_LLMPathParsesJSONArray(t *testing.T) {
	llm := fakeClaimLLM{content: `Sure, here it is: [{"text":"Sales grew 20% in 2023","kind":"statistic","extraction_confidence":0.9,"start":0,"end":23}]`}
	claims, err := ExtractClaims(context.Background(), llm, "gpt-4o-mini", "Sales grew 20% in 2023.", true)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, domain.ClaimStatistic, claims[0].Kind)
	assert.Equal(t, 0.9, claims[0].ExtractionConfidence)
}

func TestExtractClaims_FallsBackToHeuristicOnLLMError(t *testing.T) {
	llm := fakeClaimLLM{err: errors.New("boom")}
	content := "The study found that 42% of users prefer dark mode. It was released in 2021."
	claims, err := ExtractClaims(context.Background(), llm, "gpt-4o-mini", content, true)
	require.NoError(t, err)
	assert.NotEmpty(t, claims)
}

func TestExtractClaims_SkipsLLMWhenUnavailable(t *testing.T) {
	content := "According to the report, revenue is up."
	claims, err := ExtractClaims(context.Background(), nil, "gpt-4o-mini", content, false)
	require.NoError(t, err)
	assert.NotEmpty(t, claims)
}

func TestExtractClaimsHeuristic_CapsAtEight(t *testing.T) {
	var sb string
	for i := 0; i < 12; i++ {
		sb += "The study shows something important happened. "
	}
	claims := extractClaimsHeuristic(sb)
	assert.LessOrEqual(t, len(claims), maxHeuristicClaims)
}

func TestClassifyHeuristic_DetectsYearAndPercent(t *testing.T) {
	kind, matched := classifyHeuristic("Revenue grew 15% in 2022.")
	assert.True(t, matched)
	assert.Equal(t, domain.ClaimStatistic, kind)
}

func TestClassifyHeuristic_NoTriggerNoMatch(t *testing.T) {
	_, matched := classifyHeuristic("Hello there friend.")
	assert.False(t, matched)
}
