package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

// BudgetSource answers the two budget questions the Admitter needs before
// admitting a request: the ledger's point-in-time status and the user's
// trailing daily spend. It is satisfied by *ledger.Ledger.
type BudgetSource interface {
	Status(ctx domain.Context, userID string) (domain.BudgetStatus, error)
	DailySpend(ctx domain.Context, userID string) (float64, error)
	DailyCapUSD() float64
}

// Admitter is the per-user fixed-window request limiter:
// a request is admitted iff the user's window count is under the per-minute
// cap, the ledger's monthly budget is neither exceeded nor would be by the
// request's estimated cost, and the daily cap would not be exceeded either.
type Admitter struct {
	rdb      *redis.Client
	ledger   BudgetSource
	throttle Limiter

	window    time.Duration
	perMinute int

	mu       sync.Mutex
	counters map[string]*windowCounter // in-memory fallback when rdb is nil
}

type windowCounter struct {
	count      int
	windowOpen time.Time
}

// NewAdmitter constructs an Admitter. rdb may be nil, in which case the
// window counter runs in memory (single-process only, used in tests).
// throttle, when non-nil, additionally caps the account-wide rate of
// requests against the upstream model provider (a shared resource, unlike
// the per-user window below) using a token bucket keyed by "global"; pass
// nil to skip this tier, e.g. in tests or when no provider-wide cap applies.
func NewAdmitter(rdb *redis.Client, ledger BudgetSource, window time.Duration, perMinute int, throttle Limiter) *Admitter {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Admitter{
		rdb:       rdb,
		ledger:    ledger,
		throttle:  throttle,
		window:    window,
		perMinute: perMinute,
		counters:  make(map[string]*windowCounter),
	}
}

// Admit decides whether userID may make one more request with an
// estimated cost of estimatedCostUSD (0 if unknown/free).
// On refusal it returns a *domain.RateLimitedError discriminating the
// reason.
func (a *Admitter) Admit(ctx context.Context, userID string, estimatedCostUSD float64) error {
	status, err := a.ledger.Status(ctx, userID)
	if err != nil {
		// A ledger failure here is a persistence problem, not a budget
		// verdict; admit and let downstream dispatch surface it if it
		// recurs; persistence failures are absorbed rather than
		// blocking the response.
		slog.Warn("rate limiter could not load budget status, admitting", slog.Any("error", err))
	} else {
		if status.OverBudget {
			metrics.RateLimitRejectedTotal.WithLabelValues(string(domain.ReasonMonthlyBudget)).Inc()
			return &domain.RateLimitedError{Reason: domain.ReasonMonthlyBudget, RetryAfterMs: msUntilNextMonth(time.Now())}
		}
		// Project the request's estimated cost against what is left of the
		// month: a request that would push the user over the cap is refused
		// before the spend happens, not after.
		if estimatedCostUSD > 0 && status.MonthlyBudgetUSD > 0 && status.RemainingUSD < estimatedCostUSD {
			metrics.RateLimitRejectedTotal.WithLabelValues(string(domain.ReasonMonthlyBudget)).Inc()
			return &domain.RateLimitedError{Reason: domain.ReasonMonthlyBudget, RetryAfterMs: msUntilNextMonth(time.Now())}
		}
	}

	if estimatedCostUSD > 0 {
		dailyCap := a.ledger.DailyCapUSD()
		if dailyCap > 0 {
			spend, err := a.ledger.DailySpend(ctx, userID)
			if err != nil {
				slog.Warn("rate limiter could not load daily spend, admitting", slog.Any("error", err))
			} else if spend+estimatedCostUSD > dailyCap {
				metrics.RateLimitRejectedTotal.WithLabelValues(string(domain.ReasonDailyBudget)).Inc()
				return &domain.RateLimitedError{Reason: domain.ReasonDailyBudget, RetryAfterMs: msUntilNextWindow(time.Now(), 24*time.Hour)}
			}
		}
	}

	if a.throttle != nil {
		allowed, retryAfter, err := a.throttle.Allow(ctx, "global", 1)
		if err != nil {
			slog.Warn("provider throughput limiter error, admitting", slog.Any("error", err))
		} else if !allowed {
			metrics.RateLimitRejectedTotal.WithLabelValues(string(domain.ReasonProviderThroughput)).Inc()
			return &domain.RateLimitedError{Reason: domain.ReasonProviderThroughput, RetryAfterMs: retryAfter.Milliseconds()}
		}
	}

	if a.perMinute <= 0 {
		return nil
	}

	allowed, retryAfter := a.incrementWindow(ctx, userID)
	if !allowed {
		metrics.RateLimitRejectedTotal.WithLabelValues(string(domain.ReasonWindow)).Inc()
		return &domain.RateLimitedError{Reason: domain.ReasonWindow, RetryAfterMs: retryAfter.Milliseconds()}
	}
	return nil
}

func (a *Admitter) incrementWindow(ctx context.Context, userID string) (bool, time.Duration) {
	key := "ratelimit:window:" + userID
	if a.rdb != nil {
		count, err := a.rdb.Incr(ctx, key).Result()
		if err != nil {
			slog.Warn("rate limiter redis incr failed, failing open", slog.Any("error", err))
			return true, 0
		}
		if count == 1 {
			a.rdb.Expire(ctx, key, a.window)
		}
		if count > int64(a.perMinute) {
			ttl, _ := a.rdb.TTL(ctx, key).Result()
			if ttl < 0 {
				ttl = a.window
			}
			return false, ttl
		}
		return true, 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	c, ok := a.counters[userID]
	if !ok || now.Sub(c.windowOpen) >= a.window {
		c = &windowCounter{windowOpen: now}
		a.counters[userID] = c
	}
	c.count++
	if c.count > a.perMinute {
		return false, a.window - now.Sub(c.windowOpen)
	}
	return true, 0
}

func msUntilNextWindow(now time.Time, window time.Duration) int64 {
	elapsed := now.Sub(now.Truncate(window))
	return (window - elapsed).Milliseconds()
}

func msUntilNextMonth(now time.Time) int64 {
	y, m, _ := now.Date()
	next := time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
	return next.Sub(now).Milliseconds()
}
