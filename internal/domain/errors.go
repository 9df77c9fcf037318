package domain

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitReason discriminates why a request was refused by the rate
// limiter or cost ledger.
type RateLimitReason string

// Recognized rate-limit refusal reasons.
const (
	ReasonWindow             RateLimitReason = "window"
	ReasonDailyBudget        RateLimitReason = "daily_budget"
	ReasonMonthlyBudget      RateLimitReason = "monthly_budget"
	ReasonProviderThroughput RateLimitReason = "provider_throughput"
)

// RateLimitedError is returned when admission is refused for budget or
// window reasons. It wraps ErrRateLimited so callers can match with
// errors.Is(err, domain.ErrRateLimited).
type RateLimitedError struct {
	Reason       RateLimitReason
	RetryAfterMs int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: reason=%s retry_after_ms=%d", e.Reason, e.RetryAfterMs)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// TimeoutError reports that a worker call exceeded its deadline.
type TimeoutError struct {
	Worker    WorkerKind
	TimeoutMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: worker=%s timeout_ms=%d", e.Worker, e.TimeoutMs)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// CircuitOpenError reports that a breaker denied a call without touching
// the guarded dependency.
type CircuitOpenError struct {
	Dependency      string
	RecoveryAtUnixMs int64
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: dependency=%s", e.Dependency)
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// WorkerCallFailedError is the terminal error surfaced once the worker
// client has exhausted its retry budget.
type WorkerCallFailedError struct {
	Worker    WorkerKind
	Attempts  int
	LastError error
}

func (e *WorkerCallFailedError) Error() string {
	return fmt.Sprintf("worker call failed: worker=%s attempts=%d last_error=%v", e.Worker, e.Attempts, e.LastError)
}

func (e *WorkerCallFailedError) Unwrap() error { return ErrWorkerCallFailed }

// ValidationError reports that a request violates a worker's contract.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field=%s message=%s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NoAgentAvailableError reports that no routing rule resolved to a healthy
// worker.
type NoAgentAvailableError struct {
	RoutingContext string
}

func (e *NoAgentAvailableError) Error() string {
	return fmt.Sprintf("no agent available: context=%s", e.RoutingContext)
}

func (e *NoAgentAvailableError) Unwrap() error { return ErrNoAgentAvailable }

// UpstreamError wraps a provider-level failure (LLM or search) before the
// worker client's retry loop decides whether to retry it.
type UpstreamError struct {
	Dependency string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: dependency=%s status=%d: %v", e.Dependency, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	if e.Err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, e.Err)
	}
	return ErrUpstream
}

// Retryable reports whether the upstream failure is eligible for the worker
// client's retry policy: network errors and 5xx/429 are retryable; other
// 4xx responses are not.
func (e *UpstreamError) Retryable() bool {
	if e.StatusCode == 0 {
		return true // network-level error, no HTTP status observed
	}
	if e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500
}

// IsRetryable centralizes the retry/don't-retry decision for the worker
// client so callers don't have to type-switch on every error shape.
func IsRetryable(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retryable()
	}
	return errors.Is(err, ErrUpstream)
}
