package worker

import (
	"time"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/workerclient"
)

// NewIdeation constructs the ideation worker: brainstorming and outline
// generation for a fresh writing project. Internal prompt construction
// beyond the shared system-context fragment is incidental to this
// orchestrator; only the published {validate, process, healthCheck}
// contract matters to callers.
func NewIdeation(wc *workerclient.Client, breakers *breaker.Registry, model string, maxTokens int, cacheTTL time.Duration, maxContentLen int) domain.Worker {
	return &llmWorker{
		kind:          domain.WorkerIdeation,
		wc:            wc,
		breakers:      breakers,
		model:         model,
		maxTokens:     maxTokens,
		temperature:   0.9,
		cacheTTL:      cacheTTL,
		maxContentLen: maxContentLen,
		roleDirective: "You are the ideation worker: brainstorm angles, outlines, and hooks for the writer's project.",
	}
}
