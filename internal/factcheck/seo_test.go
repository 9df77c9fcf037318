package factcheck

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

type fakeSEOLLM struct {
	content string
	err     error
}

func (f fakeSEOLLM) Chat(_ domain.Context, _ domain.ChatRequest) (domain.ChatResponse, error) {
	if f.err != nil {
		return domain.ChatResponse{}, f.err
	}
	return domain.ChatResponse{Content: f.content}, nil
}

func TestSuggestSEO_LLMPathParsesSuggestions(t *testing.T) {
	llm := fakeSEOLLM{content: `[{"kind":"meta","title":"Write a better title tag","description":"d","implementation":"i","priority":"high","estimated_impact":"high"}]`}
	suggestions := SuggestSEO(context.Background(), llm, "gpt-4o-mini", "short content", nil, true)
	require.Len(t, suggestions, 1)
	assert.Equal(t, domain.SEOMeta, suggestions[0].Kind)
}

func TestSuggestSEO_FallsBackOnLLMError(t *testing.T) {
	llm := fakeSEOLLM{err: errors.New("boom")}
	suggestions := SuggestSEO(context.Background(), llm, "gpt-4o-mini", "short content", nil, true)
	assert.NotEmpty(t, suggestions)
}

func TestSuggestSEOHeuristic_AddsSubheadingsForLongContent(t *testing.T) {
	long := strings.Repeat("word ", 300)
	suggestions := suggestSEOHeuristic(long, nil)
	assert.Equal(t, domain.SEOStructure, suggestions[0].Kind)
}

func TestSuggestSEOHeuristic_SkipsSubheadingsForShortContent(t *testing.T) {
	suggestions := suggestSEOHeuristic("short", nil)
	for _, s := range suggestions {
		assert.NotEqual(t, "Add subheadings", s.Title)
	}
}

func TestSuggestSEOHeuristic_AlwaysIncludesLinkSuggestions(t *testing.T) {
	suggestions := suggestSEOHeuristic("short", nil)
	var titles []string
	for _, s := range suggestions {
		titles = append(titles, s.Title)
	}
	assert.Contains(t, titles, "Link to authoritative sources")
	assert.Contains(t, titles, "Create internal links")
}
