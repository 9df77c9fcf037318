// Package orchestrator implements the L2 request lifecycle: a
// single process(request) entrypoint that admits, routes, enriches,
// dispatches, persists, and accounts for one writing request. It is the
// service-graph root: cost ledger, rate limiter, router, context store,
// and worker registry are all wired in at construction and never touched
// concurrently outside the documented lock order (breaker -> limiter
// -> cache -> context -> metrics).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
	"github.com/scribeforge/orchestrator/internal/observability"
	"github.com/scribeforge/orchestrator/internal/router"
)

// Admitter is the rate-limiting admission gate, satisfied by
// *ratelimit.Admitter.
type Admitter interface {
	Admit(ctx context.Context, userID string, estimatedCostUSD float64) error
}

// CostEstimator prices a prospective request for the admission gate's
// budget projection, satisfied in cmd/server by an adapter over the worker
// client's pricing and the ledger's token estimator.
type CostEstimator interface {
	EstimateRequestCostUSD(content string) float64
}

// Ledger is the cost-ledger port the orchestrator records usage against,
// satisfied by *ledger.Ledger.
type Ledger interface {
	Record(ctx domain.Context, e domain.LedgerEntry) error
}

// ContextLoader is the two-tier context store port, satisfied by
// *contextstore.Store.
type ContextLoader interface {
	Get(ctx domain.Context, projectID, conversationID string) (domain.ProjectContext, error)
	Put(ctx domain.Context, pc domain.ProjectContext)
}

// Router selects a worker for a RoutingContext, satisfied by
// *router.Router.
type Router interface {
	Route(rc domain.RoutingContext) (domain.WorkerKind, error)
	AddRule(rule router.Rule)
	RemoveRule(description string)
	Rules() []router.Rule
}

// WorkerLookup resolves a registered worker by kind, satisfied by
// *worker.Registry.
type WorkerLookup interface {
	Get(kind domain.WorkerKind) domain.Worker
}

// Config tunes the orchestrator's admission and dispatch behavior; every
// field is overridable through internal/config.
type Config struct {
	MaxConcurrentRequests   int
	RequestTimeout          time.Duration
	BackgroundWriteDeadline time.Duration
}

// Orchestrator is the process-wide request-lifecycle service. It is safe
// for concurrent use by many goroutines.
type Orchestrator struct {
	admitter  Admitter
	estimator CostEstimator
	projects  domain.ProjectStore
	router    Router
	contexts  ContextLoader
	workers   WorkerLookup
	ledger    Ledger
	messages  domain.MessageStore

	cfg Config

	sem     chan struct{} // admission-slot pool, buffered to MaxConcurrentRequests
	metrics *liveMetrics
}

// New constructs an Orchestrator wired against its lower-layer
// collaborators.
func New(admitter Admitter, estimator CostEstimator, projects domain.ProjectStore, rt Router, contexts ContextLoader, workers WorkerLookup, ledger Ledger, messages domain.MessageStore, cfg Config) *Orchestrator {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.BackgroundWriteDeadline <= 0 {
		cfg.BackgroundWriteDeadline = 5 * time.Second
	}
	return &Orchestrator{
		admitter:  admitter,
		estimator: estimator,
		projects:  projects,
		router:    rt,
		contexts:  contexts,
		workers:   workers,
		ledger:    ledger,
		messages:  messages,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrentRequests),
		metrics:   newLiveMetrics(),
	}
}

// Metrics returns a snapshot of the orchestrator's in-process counters.
func (o *Orchestrator) Metrics() Snapshot { return o.metrics.snapshot() }

// AddRule and RemoveRule expose the router's admin surface directly so
// callers don't need a separate reference to the router.
func (o *Orchestrator) AddRule(rule router.Rule)    { o.router.AddRule(rule) }
func (o *Orchestrator) RemoveRule(description string) { o.router.RemoveRule(description) }
func (o *Orchestrator) Rules() []router.Rule        { return o.router.Rules() }

// Process runs one request through the full lifecycle:
// admission, routing, context enrichment, worker-specific validation,
// dispatch, best-effort persistence, and metrics accounting. The returned
// error is always one of the closed taxonomy's types; cache and
// persistence failures are absorbed and never surface here.
func (o *Orchestrator) Process(ctx domain.Context, req domain.Request) (resp domain.Response, err error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.Process")
	defer span.End()

	requestID := uuid.NewString()
	ctx = observability.ContextWithRequestID(ctx, requestID)
	logger := observability.LoggerWithTrace(ctx, observability.LoggerFromContext(ctx)).With(
		slog.String("request_id", requestID),
		slog.String("user_id", req.UserID),
		slog.String("project_id", req.ProjectID),
		slog.String("conversation_id", req.ConversationID),
	)
	ctx = observability.ContextWithLogger(ctx, logger)

	start := time.Now()
	var worker domain.WorkerKind

	defer func() {
		elapsed := time.Since(start)
		span.SetAttributes(attribute.String("worker", string(worker)))
		if err != nil {
			o.metrics.recordFailure(worker, errorKind(err), elapsed)
			metrics.RequestsTotal.WithLabelValues(string(worker), errorKind(err)).Inc()
			span.SetAttributes(attribute.String("error_kind", errorKind(err)))
		} else {
			o.metrics.recordSuccess(worker, elapsed)
			metrics.RequestsTotal.WithLabelValues(string(worker), "success").Inc()
		}
		if worker != "" {
			metrics.RequestDuration.WithLabelValues(string(worker)).Observe(elapsed.Seconds())
		}
	}()

	// Structural request validation runs before a slot is spent on the
	// request: a request with no user or project can never be routed.
	if err := domain.ValidateRequest(req); err != nil {
		return domain.Response{}, err
	}

	// Step 1: admission. The slot is reserved here and released on every
	// exit path via the deferred release below, regardless of how Process
	// returns.
	if !o.acquireSlot() {
		metrics.AdmissionRejectedTotal.Inc()
		return domain.Response{}, &domain.RateLimitedError{Reason: domain.ReasonWindow, RetryAfterMs: 1000}
	}
	defer o.releaseSlot()

	if o.admitter != nil {
		// The estimate feeds the admitter's daily and monthly budget
		// projections; without an estimator only already-exceeded budgets
		// refuse.
		var estimatedCost float64
		if o.estimator != nil {
			estimatedCost = o.estimator.EstimateRequestCostUSD(req.Content)
		}
		if err := o.admitter.Admit(ctx, req.UserID, estimatedCost); err != nil {
			return domain.Response{}, err
		}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	// Step 2: routing context.
	status, err := o.projects.LoadProjectStatus(dispatchCtx, req.ProjectID)
	if err != nil {
		return domain.Response{}, fmt.Errorf("op=orchestrator.load_project_status: %w", domain.ErrInternal)
	}

	rc := buildRoutingContext(req, status)

	// Step 3: route.
	if req.PreferredWorker != "" && o.workerHealthy(req.PreferredWorker) {
		worker = req.PreferredWorker
	} else {
		worker, err = o.router.Route(rc)
		if err != nil {
			return domain.Response{}, err
		}
	}

	w := o.workers.Get(worker)
	if w == nil {
		return domain.Response{}, &domain.NoAgentAvailableError{RoutingContext: string(worker)}
	}

	// Step 4: context enrichment.
	pc, err := o.contexts.Get(dispatchCtx, req.ProjectID, req.ConversationID)
	if err != nil {
		return domain.Response{}, fmt.Errorf("op=orchestrator.load_context: %w", domain.ErrInternal)
	}
	pc = enrichContext(pc, req, status)

	// Step 5: validate.
	if err := w.Validate(dispatchCtx, req, pc); err != nil {
		return domain.Response{}, err
	}

	// Step 6: dispatch, bounded by dispatchCtx's deadline. A deadline that
	// fires mid-call surfaces as Timeout rather than whatever the worker's
	// own error happened to be.
	resp, err = w.Process(dispatchCtx, req, pc)
	if err != nil {
		if errors.Is(dispatchCtx.Err(), context.DeadlineExceeded) {
			return domain.Response{}, &domain.TimeoutError{Worker: worker, TimeoutMs: o.cfg.RequestTimeout.Milliseconds()}
		}
		return domain.Response{}, err
	}

	// Step 7: persist context and messages. Both are best-effort: failures
	// are logged, never returned, on a deadline independent of the
	// request's own: background writes are not cancelled with the
	// request, they run to a separate short deadline.
	o.persistContext(ctx, pc, worker, req, resp)
	o.persistMessages(ctx, req, resp, worker)

	return resp, nil
}

func (o *Orchestrator) acquireSlot() bool {
	select {
	case o.sem <- struct{}{}:
		metrics.InFlightRequests.Inc()
		return true
	default:
		return false
	}
}

func (o *Orchestrator) releaseSlot() {
	<-o.sem
	metrics.InFlightRequests.Dec()
}

func (o *Orchestrator) workerHealthy(kind domain.WorkerKind) bool {
	w := o.workers.Get(kind)
	if w == nil {
		return false
	}
	return w.HealthCheck(nil) == nil
}

// buildRoutingContext derives a RoutingContext from a request and the
// admission-time project snapshot.
func buildRoutingContext(req domain.Request, status domain.ProjectStatus) domain.RoutingContext {
	requestType := domain.RequestContinueConversation
	if req.ConversationID == "" {
		requestType = domain.RequestNewConversation
	}
	if rt, ok := req.Options["requestType"].(string); ok && rt != "" {
		requestType = domain.RequestType(rt)
	}

	var prefs domain.UserPreferences
	if p, ok := req.Options["userPreferences"].(domain.UserPreferences); ok {
		prefs = p
	}

	return domain.RoutingContext{
		CurrentPhase:    status.ActivePhase,
		PreviousPhases:  status.PreviousPhases,
		ContentLength:   len(req.Content),
		LastWorker:      status.LastWorker,
		RequestType:     requestType,
		UserPreferences: prefs,
	}
}

// enrichContext refreshes the loaded ProjectContext's volatile fields
// against
// the admission-time project snapshot, preserving the persisted
// preferences and style guide.
func enrichContext(pc domain.ProjectContext, req domain.Request, status domain.ProjectStatus) domain.ProjectContext {
	pc.ProjectID = req.ProjectID
	pc.ConversationID = req.ConversationID
	pc.PreviousPhases = status.PreviousPhases
	return pc
}

func (o *Orchestrator) persistContext(ctx domain.Context, pc domain.ProjectContext, worker domain.WorkerKind, req domain.Request, resp domain.Response) {
	pc.ProjectContent = req.Content
	snippet := resp.Content
	if len(snippet) > 160 {
		snippet = snippet[:160]
	}
	pc.ConversationHistory = appendConversationSummary(pc.ConversationHistory, domain.ConversationSummary{
		ConversationID:  req.ConversationID,
		WorkerKind:      worker,
		MessageCount:    len(pc.ConversationHistory) + 1,
		LastMessageSnip: snippet,
		Timestamp:       time.Now(),
	})
	o.contexts.Put(ctx, pc)
}

// maxConversationHistory bounds the conversation-history list retained per
// project.
const maxConversationHistory = 20

func appendConversationSummary(history []domain.ConversationSummary, entry domain.ConversationSummary) []domain.ConversationSummary {
	history = append(history, entry)
	if len(history) > maxConversationHistory {
		history = history[len(history)-maxConversationHistory:]
	}
	return history
}

func (o *Orchestrator) persistMessages(ctx domain.Context, req domain.Request, resp domain.Response, worker domain.WorkerKind) {
	if o.messages == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.BackgroundWriteDeadline)
	defer cancel()

	logger := observability.LoggerFromContext(ctx)
	now := time.Now()

	userMsg := domain.Message{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		ConversationID: req.ConversationID,
		Role:           domain.MessageUser,
		WorkerKind:     worker,
		Content:        req.Content,
		CreatedAt:      now,
	}
	if err := o.messages.Append(writeCtx, userMsg); err != nil {
		logger.Error("failed to persist user message", slog.Any("error", err))
		return // agent message must not precede a missing user message
	}

	agentMsg := domain.Message{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		ConversationID: req.ConversationID,
		Role:           domain.MessageAgent,
		WorkerKind:     worker,
		Content:        resp.Content,
		Metadata: map[string]string{
			"model": resp.Metadata.Model,
		},
		CreatedAt: now.Add(time.Nanosecond),
	}
	if err := o.messages.Append(writeCtx, agentMsg); err != nil {
		logger.Error("failed to persist agent message", slog.Any("error", err))
	}
}

// Shutdown drains in-flight requests up to deadline, then returns. It does
// not forcibly cancel outstanding work; callers that need that should
// cancel the context passed to Process instead.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < cap(o.sem); i++ {
			select {
			case o.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(time.Until(deadline)):
		return context.DeadlineExceeded
	}
}
