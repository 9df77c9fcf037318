package ledger

import "github.com/scribeforge/orchestrator/internal/domain"

// CostModel prices a ChatUsage by a per-model USD-per-token rate, split
// between prompt and completion tokens since providers typically price them
// differently.
type CostModel struct {
	PromptUSDPerToken     map[string]float64
	CompletionUSDPerToken map[string]float64
	DefaultPromptRate     float64
	DefaultCompletionRate float64
}

// NewCostModel builds a CostModel with sane defaults for the models this
// runtime ships with; unknown models fall back to the default rates.
func NewCostModel() CostModel {
	return CostModel{
		PromptUSDPerToken: map[string]float64{
			"gpt-4o-mini": 0.00000015,
			"gpt-4o":      0.0000025,
		},
		CompletionUSDPerToken: map[string]float64{
			"gpt-4o-mini": 0.0000006,
			"gpt-4o":      0.00001,
		},
		DefaultPromptRate:     0.000001,
		DefaultCompletionRate: 0.000002,
	}
}

// Price computes the USD cost of a ChatUsage for model.
func (m CostModel) Price(model string, usage domain.ChatUsage) float64 {
	promptRate, ok := m.PromptUSDPerToken[model]
	if !ok {
		promptRate = m.DefaultPromptRate
	}
	completionRate, ok := m.CompletionUSDPerToken[model]
	if !ok {
		completionRate = m.DefaultCompletionRate
	}
	return float64(usage.PromptTokens)*promptRate + float64(usage.CompletionTokens)*completionRate
}
