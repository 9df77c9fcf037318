package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New("llm", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		ok, err := b.Allow()
		require.True(t, ok)
		require.NoError(t, err)
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.CurrentState())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())

	ok, err := b.Allow()
	assert.False(t, ok)
	var circuitErr *domain.CircuitOpenError
	require.True(t, errors.As(err, &circuitErr))
	assert.Equal(t, "llm", circuitErr.Dependency)
}

func TestBreaker_HalfOpenProbeSingleton(t *testing.T) {
	b := New("search", Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	ok, _ := b.Allow()
	require.True(t, ok)
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())

	time.Sleep(15 * time.Millisecond)

	first, err := b.Allow()
	require.True(t, first)
	require.NoError(t, err)

	second, err := b.Allow()
	assert.False(t, second)
	assert.Error(t, err)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New("llm", Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	b.Allow()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	ok, err := b.Allow()
	require.True(t, ok)
	require.NoError(t, err)

	b.RecordSuccess()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New("llm", Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	b.Allow()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	ok, _ := b.Allow()
	require.True(t, ok)
	b.RecordFailure()

	assert.Equal(t, Open, b.CurrentState())
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("llm", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordSuccess()

	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestRegistry_PerDependencyIsolation(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	llm := r.Get("llm")
	llm.Allow()
	llm.RecordFailure()

	assert.False(t, r.IsHealthy("llm"))
	assert.True(t, r.IsHealthy("search-duckduckgo"))

	healthy := r.HealthyDependencies()
	assert.NotContains(t, healthy, "llm")
}

func TestRegistry_UnknownDependencyIsHealthy(t *testing.T) {
	r := NewRegistry(Config{})
	assert.True(t, r.IsHealthy("never-seen"))
}
