package worker

import (
	"time"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/workerclient"
)

// NewMedia constructs the media worker: image/illustration briefs and
// placement suggestions for a draft. Actual asset generation and file
// export are out of scope; this worker only produces the brief.
func NewMedia(wc *workerclient.Client, breakers *breaker.Registry, model string, maxTokens int, cacheTTL time.Duration, maxContentLen int) domain.Worker {
	return &llmWorker{
		kind:          domain.WorkerMedia,
		wc:            wc,
		breakers:      breakers,
		model:         model,
		maxTokens:     maxTokens,
		temperature:   0.7,
		cacheTTL:      cacheTTL,
		maxContentLen: maxContentLen,
		roleDirective: "You are the media worker: propose illustration, diagram, and media-placement briefs that support the draft.",
	}
}
