// Package worker implements the three simple LLM-backed worker roles
// (ideation, refiner, media) as variants of the shared domain.Worker
// capability set, plus the Registry vtable the orchestrator dispatches
// through. The fact-checker, the one worker with nontrivial
// external-coordination logic, lives in internal/factcheck and is adapted
// into this vtable by cmd/server's wiring.
package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/cache"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/workerclient"
	"github.com/scribeforge/orchestrator/pkg/textx"
)

// Registry is the small vtable the orchestrator dispatches through: one
// domain.Worker per WorkerKind, registered at startup.
type Registry struct {
	workers map[domain.WorkerKind]domain.Worker
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[domain.WorkerKind]domain.Worker)}
}

// Register adds w under its own Kind().
func (r *Registry) Register(w domain.Worker) {
	r.workers[w.Kind()] = w
}

// Get returns the worker for kind, or nil if none is registered.
func (r *Registry) Get(kind domain.WorkerKind) domain.Worker {
	return r.workers[kind]
}

// IsHealthy implements router.HealthChecker: a worker with no registered
// implementation is considered unhealthy; otherwise its own HealthCheck is
// consulted.
func (r *Registry) IsHealthy(kind domain.WorkerKind) bool {
	w, ok := r.workers[kind]
	if !ok {
		return false
	}
	return w.HealthCheck(nil) == nil
}

// llmWorker is the shared implementation backing ideation, refiner, and
// media: a single chat-completion call against a role-specific system
// prompt, dispatched through the shared workerclient.Client.
type llmWorker struct {
	kind        domain.WorkerKind
	wc          *workerclient.Client
	breakers    *breaker.Registry
	model       string
	maxTokens   int
	temperature float64
	cacheTTL    time.Duration
	maxContentLen int
	roleDirective string
}

func (w *llmWorker) Kind() domain.WorkerKind { return w.kind }

// Validate enforces the one contract item these workers share: content must
// not exceed the configured context window, measured after the same
// control-character stripping Process applies before dispatch.
func (w *llmWorker) Validate(_ domain.Context, req domain.Request, _ domain.ProjectContext) error {
	content := textx.SanitizeText(req.Content)
	if w.maxContentLen > 0 && len(content) > w.maxContentLen {
		return &domain.ValidationError{Field: "content", Message: fmt.Sprintf("content length %d exceeds max context length %d", len(content), w.maxContentLen)}
	}
	return nil
}

// BuildSystemContext renders the structured inputs a prompt template would
// need: role directive, user preferences, style guide, and a short summary
// of prior phases. Prompt template authoring itself is out of scope.
func (w *llmWorker) BuildSystemContext(pc domain.ProjectContext) string {
	var sb strings.Builder
	sb.WriteString(w.roleDirective)
	sb.WriteString("\n\nWriter preferences: personality=")
	sb.WriteString(string(pc.UserPreferences.Personality))
	sb.WriteString(", experience=")
	sb.WriteString(string(pc.UserPreferences.Experience))
	if len(pc.UserPreferences.Genres) > 0 {
		sb.WriteString(", genres=")
		sb.WriteString(strings.Join(pc.UserPreferences.Genres, ","))
	}
	if pc.StyleGuide != nil {
		sb.WriteString("\nStyle guide: tone=")
		sb.WriteString(pc.StyleGuide.Tone)
		sb.WriteString(", audience=")
		sb.WriteString(pc.StyleGuide.TargetAudience)
	}
	if len(pc.PreviousPhases) > 0 {
		sb.WriteString("\nPrevious phases: ")
		for i, p := range pc.PreviousPhases {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(string(p.WorkerKind))
			sb.WriteString("=")
			sb.WriteString(string(p.Status))
		}
	}
	return sb.String()
}

// Process dispatches one chat-completion call and wraps the result into a
// Response. Suggestions and next-steps are left to the (out-of-scope)
// template layer; this module only guarantees the dispatch, cost
// accounting, and caching contract.
func (w *llmWorker) Process(ctx domain.Context, req domain.Request, pc domain.ProjectContext) (domain.Response, error) {
	content := textx.SanitizeText(req.Content)
	system := w.BuildSystemContext(pc)
	chatReq := domain.ChatRequest{
		Model:       w.model,
		MaxTokens:   w.maxTokens,
		Temperature: w.temperature,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: content},
		},
	}

	fp := cache.Fingerprint{
		WorkerKind:    w.kind,
		Model:         w.model,
		SystemPrompt:  system,
		UserPrompt:    content,
		Temperature:   w.temperature,
		MaxTokens:     w.maxTokens,
		ContextDigest: cache.DigestContext(pc),
	}

	start := time.Now()
	result, err := w.wc.Dispatch(ctx, w.kind, req.UserID, chatReq, fp, w.cacheTTL)
	if err != nil {
		return domain.Response{}, err
	}

	confidence := 0.8
	if result.CacheHit {
		confidence = 0.85
	}

	return domain.Response{
		Content: result.Content,
		Metadata: domain.ResponseMetadata{
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			TokenUsage: domain.TokenUsage{
				Prompt:     result.Usage.PromptTokens,
				Completion: result.Usage.CompletionTokens,
				Total:      result.Usage.TotalTokens,
				CostUSD:    w.wc.EstimatedCostUSD(result.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens),
			},
			Model:      result.Model,
			Confidence: confidence,
		},
	}, nil
}

// HealthCheck reports the shared LLM dependency's breaker state. A nil ctx
// is accepted since the router's health probe (used on every Route call)
// has no natural context of its own.
func (w *llmWorker) HealthCheck(_ domain.Context) error {
	if w.breakers == nil {
		return nil
	}
	if !w.breakers.IsHealthy(workerclient.LLMDependency) {
		return &domain.CircuitOpenError{Dependency: workerclient.LLMDependency}
	}
	return nil
}
