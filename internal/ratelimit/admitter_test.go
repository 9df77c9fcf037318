package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

type fakeBudgetSource struct {
	status      domain.BudgetStatus
	dailySpend  float64
	dailyCapUSD float64
	err         error
}

func (f *fakeBudgetSource) Status(_ domain.Context, _ string) (domain.BudgetStatus, error) {
	return f.status, f.err
}
func (f *fakeBudgetSource) DailySpend(_ domain.Context, _ string) (float64, error) {
	return f.dailySpend, nil
}
func (f *fakeBudgetSource) DailyCapUSD() float64 { return f.dailyCapUSD }

func TestAdmitter_WindowCapRefusesNPlus1th(t *testing.T) {
	src := &fakeBudgetSource{}
	a := NewAdmitter(nil, src, time.Minute, 2, nil)
	ctx := context.Background()

	require.NoError(t, a.Admit(ctx, "u1", 0))
	require.NoError(t, a.Admit(ctx, "u1", 0))

	err := a.Admit(ctx, "u1", 0)
	require.Error(t, err)
	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, domain.ReasonWindow, rl.Reason)
}

func TestAdmitter_MonthlyBudgetRefuses(t *testing.T) {
	src := &fakeBudgetSource{status: domain.BudgetStatus{OverBudget: true}}
	a := NewAdmitter(nil, src, time.Minute, 100, nil)
	ctx := context.Background()

	err := a.Admit(ctx, "u2", 0)
	require.Error(t, err)
	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, domain.ReasonMonthlyBudget, rl.Reason)
	assert.GreaterOrEqual(t, rl.RetryAfterMs, int64(0))
}

func TestAdmitter_MonthlyProjectionRefuses(t *testing.T) {
	// Spend $19.99 of a $20 monthly cap; a $0.02 request must be refused as
	// a monthly-budget breach with a retry horizon of at least the time
	// remaining in the month.
	src := &fakeBudgetSource{status: domain.BudgetStatus{
		MonthlyBudgetUSD: 20,
		CurrentSpendUSD:  19.99,
		RemainingUSD:     0.01,
		PercentUsed:      99.95,
		ApproachingLimit: true,
	}}
	a := NewAdmitter(nil, src, time.Minute, 100, nil)
	ctx := context.Background()

	err := a.Admit(ctx, "u2", 0.02)
	require.Error(t, err)
	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, domain.ReasonMonthlyBudget, rl.Reason)

	now := time.Now()
	y, m, _ := now.Date()
	nextMonth := time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
	assert.GreaterOrEqual(t, rl.RetryAfterMs, nextMonth.Sub(now).Milliseconds()-1000)
}

func TestAdmitter_DailyCapRefuses(t *testing.T) {
	src := &fakeBudgetSource{
		status:      domain.BudgetStatus{MonthlyBudgetUSD: 200, RemainingUSD: 150},
		dailySpend:  9.99,
		dailyCapUSD: 10,
	}
	a := NewAdmitter(nil, src, time.Minute, 100, nil)
	ctx := context.Background()

	err := a.Admit(ctx, "u3", 0.02)
	require.Error(t, err)
	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, domain.ReasonDailyBudget, rl.Reason)
}

func TestAdmitter_AdmitsWithinBudgetAndWindow(t *testing.T) {
	src := &fakeBudgetSource{dailySpend: 1, dailyCapUSD: 20}
	a := NewAdmitter(nil, src, time.Minute, 5, nil)
	ctx := context.Background()

	assert.NoError(t, a.Admit(ctx, "u4", 0.02))
}

func TestAdmitter_RedisBackedWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	src := &fakeBudgetSource{}
	a := NewAdmitter(rdb, src, time.Minute, 1, nil)
	ctx := context.Background()

	require.NoError(t, a.Admit(ctx, "u5", 0))
	err = a.Admit(ctx, "u5", 0)
	require.Error(t, err)
	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, domain.ReasonWindow, rl.Reason)
}

func TestAdmitter_LedgerErrorFailsOpen(t *testing.T) {
	src := &fakeBudgetSource{err: errors.New("boom")}
	a := NewAdmitter(nil, src, time.Minute, 5, nil)
	ctx := context.Background()

	assert.NoError(t, a.Admit(ctx, "u6", 0))
}
