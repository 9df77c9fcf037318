package factcheck

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/ledger"
	"github.com/scribeforge/orchestrator/internal/workerclient"
)

// Worker is the fact-check worker: the one worker whose Process
// fans out into several substages (extraction, per-claim verification and
// analysis, conflict detection, SEO suggestions) instead of a single
// chat-completion dispatch, and which guarantees a response even when every
// substage is degraded.
type Worker struct {
	llm         domain.LLMClient
	breakers    *breaker.Registry
	verifier    *Verifier
	ledger      *ledger.Ledger
	costModel   ledger.CostModel
	model       string
	maxContentLen int
}

// New constructs the fact-check worker.
func New(llm domain.LLMClient, breakers *breaker.Registry, verifier *Verifier, led *ledger.Ledger, costModel ledger.CostModel, model string, maxContentLen int) *Worker {
	return &Worker{
		llm:           llm,
		breakers:      breakers,
		verifier:      verifier,
		ledger:        led,
		costModel:     costModel,
		model:         model,
		maxContentLen: maxContentLen,
	}
}

// Kind implements domain.Worker.
func (w *Worker) Kind() domain.WorkerKind { return domain.WorkerFactChecker }

// Validate implements domain.Worker.
func (w *Worker) Validate(_ domain.Context, req domain.Request, _ domain.ProjectContext) error {
	if w.maxContentLen > 0 && len(req.Content) > w.maxContentLen {
		return &domain.ValidationError{Field: "content", Message: fmt.Sprintf("content length %d exceeds max context length %d", len(req.Content), w.maxContentLen)}
	}
	return nil
}

// BuildSystemContext implements domain.Worker.
func (w *Worker) BuildSystemContext(pc domain.ProjectContext) string {
	return "You are the fact-checking worker: verify claims against credible sources and propose SEO improvements."
}

// HealthCheck implements domain.Worker: the fact-checker degrades to
// heuristics rather than failing outright when its LLM dependency is down,
// so it reports healthy as long as it can still run the pipeline at all.
func (w *Worker) HealthCheck(domain.Context) error {
	return nil
}

// Process runs the full fact-check pipeline. No
// substage's error ever escapes: a panic anywhere in the pipeline (an
// unexpected invariant violation, not a normal upstream failure, which every
// substage already absorbs internally) is recovered and converted into the
// fallback response.
func (w *Worker) Process(ctx domain.Context, req domain.Request, pc domain.ProjectContext) (resp domain.Response, err error) {
	tracer := otel.Tracer("factchecker")
	ctx, span := tracer.Start(ctx, "factchecker.Process")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.SetAttributes(attribute.Bool("fallback", true))
			resp = fallbackResponse()
			err = nil
		}
	}()

	start := time.Now()
	llmAvailable := w.llm != nil && w.breakers.IsHealthy(workerclient.LLMDependency)

	claims, _ := ExtractClaims(ctx, w.llm, w.model, req.Content, llmAvailable)

	var results []domain.FactCheckResult
	var promptChars, completionChars int
	if len(claims) > 0 {
		sourcesByClaim := w.verifier.VerifyClaims(ctx, claims)
		results = make([]domain.FactCheckResult, 0, len(claims))
		for _, claim := range claims {
			sources := sourcesByClaim[claim.ID]
			result := AnalyzeClaim(ctx, w.llm, w.model, claim, sources, llmAvailable)
			results = append(results, result)
			promptChars += len(claim.Text)
			completionChars += len(result.Explanation)
		}
	}

	conflicts := DetectConflicts(claims, results)
	suggestions := SuggestSEO(ctx, w.llm, w.model, req.Content, results, llmAvailable)

	usage := w.estimateUsage(req.Content, promptChars, completionChars)
	cost := w.costModel.Price(w.model, usage)
	if w.ledger != nil {
		entry := domain.LedgerEntry{
			UserID:           req.UserID,
			WorkerKind:       domain.WorkerFactChecker,
			Model:            w.model,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			CostUSD:          cost,
			CreatedAt:        time.Now(),
		}
		_ = w.ledger.Record(ctx, entry)
	}

	content := renderSummary(claims, results, conflicts, suggestions)

	return domain.Response{
		Content:     content,
		Suggestions: responseSuggestions(conflicts, suggestions),
		Metadata: domain.ResponseMetadata{
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			TokenUsage: domain.TokenUsage{
				Prompt:     usage.PromptTokens,
				Completion: usage.CompletionTokens,
				Total:      usage.PromptTokens + usage.CompletionTokens,
				CostUSD:    cost,
			},
			Model:      w.model,
			Confidence: overallConfidence(results),
		},
		PhaseOutputs: map[string]any{
			"factcheck": domain.FactCheckPhaseOutput{
				Claims:         claims,
				Results:        results,
				Conflicts:      conflicts,
				SEOSuggestions: suggestions,
			},
		},
	}, nil
}

// estimateUsage sizes the pipeline's aggregate prompt/completion cost via
// tiktoken rather than threading real usage blocks out of every substage's
// LLM call (extraction, N analyses, SEO) individually.
func (w *Worker) estimateUsage(content string, promptChars, completionChars int) domain.ChatUsage {
	prompt := ledger.EstimateTokens(w.model, content) + ledger.EstimateTokens(w.model, strings.Repeat("x", promptChars))
	completion := ledger.EstimateTokens(w.model, strings.Repeat("x", completionChars))
	return domain.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

func overallConfidence(results []domain.FactCheckResult) float64 {
	if len(results) == 0 {
		return 0.5
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return clamp01(sum / float64(len(results)))
}

// responseSuggestions folds the typed findings into response-level
// suggestions: each conflict becomes an action item (high priority when the
// evidence outright contradicts the claim), and each SEO suggestion an
// improvement carrying its own priority.
func responseSuggestions(conflicts []domain.ConflictingInformation, seo []domain.SEOSuggestion) []domain.Suggestion {
	out := make([]domain.Suggestion, 0, len(conflicts)+len(seo))
	for _, c := range conflicts {
		priority := domain.PriorityMedium
		if c.Kind == domain.ConflictContradictory {
			priority = domain.PriorityHigh
		}
		out = append(out, domain.Suggestion{
			Kind:     domain.SuggestionAction,
			Text:     fmt.Sprintf("Address the %s finding for %s: %s", c.Kind, c.ClaimID, c.Recommendation),
			Priority: priority,
		})
	}
	for _, s := range seo {
		out = append(out, domain.Suggestion{
			Kind:     domain.SuggestionImprovement,
			Text:     s.Title,
			Priority: s.Priority,
		})
	}
	return out
}

func renderSummary(claims []domain.FactualClaim, results []domain.FactCheckResult, conflicts []domain.ConflictingInformation, suggestions []domain.SEOSuggestion) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fact-check summary: %d claim(s) checked.\n", len(claims))
	for _, r := range results {
		fmt.Fprintf(&sb, "- [%s] (confidence %.2f) %s\n", r.Status, r.Confidence, r.Explanation)
	}
	if len(conflicts) > 0 {
		sb.WriteString("\nConflicts found:\n")
		for _, c := range conflicts {
			fmt.Fprintf(&sb, "- [%s] %s. %s\n", c.Kind, c.Explanation, c.Recommendation)
		}
	}
	if len(suggestions) > 0 {
		sb.WriteString("\nSEO suggestions:\n")
		for _, s := range suggestions {
			fmt.Fprintf(&sb, "- [%s/%s] %s: %s\n", s.Priority, s.Kind, s.Title, s.Description)
		}
	}
	return sb.String()
}

// fallbackResponse is the last-resort, never-raise response:
// generic guidance, zero token usage, confidence 0.3.
func fallbackResponse() domain.Response {
	return domain.Response{
		Content: "Fact-checking could not complete automatically for this content. " +
			"Review factual claims manually against primary sources before publishing, " +
			"and consider adding outbound citations and internal links to support SEO.",
		Suggestions: []domain.Suggestion{
			{Kind: domain.SuggestionAction, Text: "Manually verify any statistics or dates before publishing", Priority: domain.PriorityHigh},
			{Kind: domain.SuggestionResource, Text: "Check claims against primary sources and add citations", Priority: domain.PriorityMedium},
			{Kind: domain.SuggestionImprovement, Text: "Improve internal linking and heading structure for SEO", Priority: domain.PriorityMedium},
		},
		Metadata: domain.ResponseMetadata{
			Confidence: 0.3,
		},
		PhaseOutputs: map[string]any{
			"factcheck": domain.FactCheckPhaseOutput{
				SEOSuggestions: []domain.SEOSuggestion{
					{Kind: domain.SEOStructure, Title: "Manual review recommended", Description: "Automated fact-checking was unavailable for this request.", Priority: domain.PriorityHigh},
				},
			},
		},
	}
}
