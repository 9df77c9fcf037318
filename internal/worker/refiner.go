package worker

import (
	"time"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/workerclient"
)

// NewRefiner constructs the refiner worker: line editing, tightening, and
// tone consistency passes over an existing draft.
func NewRefiner(wc *workerclient.Client, breakers *breaker.Registry, model string, maxTokens int, cacheTTL time.Duration, maxContentLen int) domain.Worker {
	return &llmWorker{
		kind:          domain.WorkerRefiner,
		wc:            wc,
		breakers:      breakers,
		model:         model,
		maxTokens:     maxTokens,
		temperature:   0.4,
		cacheTTL:      cacheTTL,
		maxContentLen: maxContentLen,
		roleDirective: "You are the refiner worker: tighten prose, fix pacing, and enforce voice consistency against the draft.",
	}
}
