package workerclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/cache"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/ledger"
	"github.com/scribeforge/orchestrator/internal/ledger/memstore"
)

type fakeLLM struct {
	calls      int32
	failUntil  int32 // fail the first N calls with a retryable error
	terminal   error // if set, always return this (non-retryable)
	usage      domain.ChatUsage
	model      string
}

func (f *fakeLLM) Chat(_ domain.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.terminal != nil {
		return domain.ChatResponse{}, f.terminal
	}
	if n <= f.failUntil {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: "openai", StatusCode: 503, Err: errors.New("unavailable")}
	}
	return domain.ChatResponse{Content: "hello", Usage: f.usage, Model: f.model}, nil
}

func newTestClient(llm domain.LLMClient) *Client {
	c := cache.New(nil, 100)
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	led := ledger.New(memstore.New(), 200, 10)
	return New(llm, c, breakers, led, ledger.NewCostModel(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, time.Second)
}

func TestDispatch_SuccessRecordsLedgerAndCaches(t *testing.T) {
	llm := &fakeLLM{model: "gpt-4o-mini", usage: domain.ChatUsage{PromptTokens: 100, CompletionTokens: 50}}
	c := newTestClient(llm)

	req := domain.ChatRequest{Model: "gpt-4o-mini", Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}}
	fp := cache.Fingerprint{WorkerKind: domain.WorkerIdeation, Model: "gpt-4o-mini", UserPrompt: "hi"}

	res, err := c.Dispatch(context.Background(), domain.WorkerIdeation, "u1", req, fp, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.False(t, res.CacheHit)
	spend, err := c.ledger.DailySpend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Greater(t, spend, 0.0, "a successful dispatch records a priced ledger entry")

	res2, err := c.Dispatch(context.Background(), domain.WorkerIdeation, "u1", req, fp, time.Minute)
	require.NoError(t, err)
	assert.True(t, res2.CacheHit)
	assert.Equal(t, int32(1), llm.calls, "second dispatch should be served from cache, not a new LLM call")
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	llm := &fakeLLM{model: "gpt-4o-mini", failUntil: 2}
	c := newTestClient(llm)

	req := domain.ChatRequest{Model: "gpt-4o-mini"}
	fp := cache.Fingerprint{UserPrompt: "retry-me"}

	res, err := c.Dispatch(context.Background(), domain.WorkerRefiner, "u2", req, fp, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, int32(3), llm.calls)
}

func TestDispatch_ExhaustsRetriesAndWrapsWorkerCallFailed(t *testing.T) {
	llm := &fakeLLM{failUntil: 100}
	c := newTestClient(llm)

	req := domain.ChatRequest{Model: "gpt-4o-mini"}
	fp := cache.Fingerprint{UserPrompt: "always-fails"}

	_, err := c.Dispatch(context.Background(), domain.WorkerMedia, "u3", req, fp, time.Minute)
	require.Error(t, err)
	var wcf *domain.WorkerCallFailedError
	require.True(t, errors.As(err, &wcf))
	assert.Equal(t, domain.WorkerMedia, wcf.Worker)
	assert.Equal(t, 4, wcf.Attempts) // initial attempt + 3 retries
}

func TestDispatch_NonRetryable4xxFailsImmediately(t *testing.T) {
	llm := &fakeLLM{terminal: &domain.UpstreamError{Dependency: "openai", StatusCode: 400, Err: errors.New("bad request")}}
	c := newTestClient(llm)

	req := domain.ChatRequest{Model: "gpt-4o-mini"}
	fp := cache.Fingerprint{UserPrompt: "bad-request"}

	_, err := c.Dispatch(context.Background(), domain.WorkerIdeation, "u4", req, fp, time.Minute)
	require.Error(t, err)
	assert.Equal(t, int32(1), llm.calls, "a non-retryable 4xx must not be retried")
}

func TestDispatch_CircuitOpenSkipsUpstream(t *testing.T) {
	llm := &fakeLLM{failUntil: 1000}
	c := newTestClient(llm)
	c.retry.MaxRetries = 0

	req := domain.ChatRequest{Model: "gpt-4o-mini"}
	for i := 0; i < 5; i++ {
		fp := cache.Fingerprint{UserPrompt: "trip"}
		fp.MaxTokens = i // distinct fingerprint per call so the cache never serves a hit
		_, _ = c.Dispatch(context.Background(), domain.WorkerIdeation, "u5", req, fp, time.Minute)
	}

	before := llm.calls
	_, err := c.Dispatch(context.Background(), domain.WorkerIdeation, "u5", req, cache.Fingerprint{UserPrompt: "trip-final"}, time.Minute)
	require.Error(t, err)
	var circuitErr *domain.CircuitOpenError
	require.True(t, errors.As(err, &circuitErr))
	assert.Equal(t, before, llm.calls, "no outbound call should happen while the circuit is open")
}
