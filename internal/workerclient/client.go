// Package workerclient implements the L1 worker dispatch surface:
// typed chat-completion dispatch to a worker's upstream LLM, fronted by the
// response cache and a circuit breaker, with bounded exponential-backoff
// retries.
package workerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/cache"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/ledger"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

// LLMDependency is the circuit-breaker and metrics label for every worker's
// shared upstream LLM provider.
const LLMDependency = "openai"

// RetryPolicy tunes the worker client's backoff: base * 2^attempt,
// capped at maxDelay, up to maxRetries additional attempts after the
// first.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DispatchResult is what a single worker-client dispatch produces: the raw
// LLM content plus the usage/model facts the caller needs to build a
// Response and a cost-ledger entry.
type DispatchResult struct {
	Content  string          `json:"content"`
	Usage    domain.ChatUsage `json:"usage"`
	Model    string          `json:"model"`
	CacheHit bool            `json:"-"`
}

// Client is the worker client: one shared instance dispatches chat calls
// for every worker role.
type Client struct {
	llm       domain.LLMClient
	cache     *cache.Cache
	breakers  *breaker.Registry
	ledger    *ledger.Ledger
	costModel ledger.CostModel
	retry     RetryPolicy
	timeout   time.Duration
}

// New constructs a Client.
func New(llm domain.LLMClient, c *cache.Cache, breakers *breaker.Registry, led *ledger.Ledger, costModel ledger.CostModel, retry RetryPolicy, timeout time.Duration) *Client {
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{llm: llm, cache: c, breakers: breakers, ledger: led, costModel: costModel, retry: retry, timeout: timeout}
}

// Dispatch runs the full worker-client pipeline for one chat request on
// behalf of worker, caching the result under fp for ttl. userID is used
// only to attribute the cost-ledger entry.
func (c *Client) Dispatch(ctx domain.Context, worker domain.WorkerKind, userID string, req domain.ChatRequest, fp cache.Fingerprint, ttl time.Duration) (DispatchResult, error) {
	tracer := otel.Tracer("workerclient")
	ctx, span := tracer.Start(ctx, "workerclient.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("worker", string(worker)), attribute.String("model", req.Model))

	if raw, ok := c.cache.Get(ctx, worker, fp); ok {
		var cached DispatchResult
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			cached.CacheHit = true
			metrics.WorkerCallsTotal.WithLabelValues(string(worker), "cache_hit").Inc()
			return cached, nil
		}
		slog.Warn("worker client cache entry unreadable, falling through to dispatch", slog.String("worker", string(worker)))
	}

	br := c.breakers.Get(LLMDependency)
	allowed, err := br.Allow()
	if !allowed {
		metrics.WorkerCallsTotal.WithLabelValues(string(worker), "circuit_open").Inc()
		return DispatchResult{}, err
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	req.WorkerTag = string(worker)
	req.UserTag = userID

	start := time.Now()
	resp, attempts, err := c.callWithRetry(dispatchCtx, req)
	metrics.WorkerCallDuration.WithLabelValues(string(worker)).Observe(time.Since(start).Seconds())

	if err != nil {
		br.RecordFailure()
		if dispatchCtx.Err() == context.DeadlineExceeded {
			metrics.WorkerCallsTotal.WithLabelValues(string(worker), "timeout").Inc()
			return DispatchResult{}, &domain.TimeoutError{Worker: worker, TimeoutMs: c.timeout.Milliseconds()}
		}
		metrics.WorkerCallsTotal.WithLabelValues(string(worker), "failure").Inc()
		return DispatchResult{}, &domain.WorkerCallFailedError{Worker: worker, Attempts: attempts, LastError: err}
	}
	br.RecordSuccess()
	metrics.WorkerCallsTotal.WithLabelValues(string(worker), "success").Inc()

	result := DispatchResult{Content: resp.Content, Usage: resp.Usage, Model: resp.Model}

	if payload, err := json.Marshal(result); err == nil {
		c.cache.Set(ctx, fp, string(payload), ttl)
	}

	cost := c.costModel.Price(result.Model, result.Usage)
	entry := domain.LedgerEntry{
		UserID:           userID,
		WorkerKind:       worker,
		Model:            result.Model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		CostUSD:          cost,
		RequestID:        req.RequestID,
		CreatedAt:        time.Now(),
	}
	if c.ledger != nil {
		if err := c.ledger.Record(ctx, entry); err != nil {
			slog.Error("worker client failed to record ledger entry", slog.String("worker", string(worker)), slog.Any("error", err))
		}
	}

	return result, nil
}

// EstimatedCostUSD prices promptTokens prompt tokens plus maxTokens
// completion tokens under the client's cost model. cmd/server uses it for
// the admission-time estimate (prompt tokens estimated from the request
// text, maxTokens as the worst-case completion); the LLM workers use it to
// price a finished call's reported usage.
func (c *Client) EstimatedCostUSD(model string, promptTokens, maxTokens int) float64 {
	return c.costModel.Price(model, domain.ChatUsage{PromptTokens: promptTokens, CompletionTokens: maxTokens})
}

func (c *Client) callWithRetry(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.BaseDelay
	bo.MaxInterval = c.retry.MaxDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by attempt count, not elapsed time

	var lastErr error
	var lastResp domain.ChatResponse
	attempts := 0
	withCtx := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retry.MaxRetries)), ctx)

	err := backoff.Retry(func() error {
		attempts++
		resp, err := c.llm.Chat(ctx, req)
		if err != nil {
			lastErr = err
			if domain.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		lastResp = resp
		lastErr = nil
		return nil
	}, withCtx)

	if err != nil {
		if lastErr != nil {
			return domain.ChatResponse{}, attempts, lastErr
		}
		return domain.ChatResponse{}, attempts, fmt.Errorf("op=workerclient.dispatch: %w", err)
	}
	return lastResp, attempts, nil
}
