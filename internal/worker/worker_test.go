package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/breaker"
	"github.com/scribeforge/orchestrator/internal/cache"
	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/ledger"
	"github.com/scribeforge/orchestrator/internal/ledger/memstore"
	"github.com/scribeforge/orchestrator/internal/workerclient"
)

type stubLLM struct{}

func (stubLLM) Chat(_ domain.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	return domain.ChatResponse{
		Content: "brainstormed outline",
		Usage:   domain.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		Model:   req.Model,
	}, nil
}

func newTestIdeation(t *testing.T) domain.Worker {
	t.Helper()
	c := cache.New(nil, 10)
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	led := ledger.New(memstore.New(), 200, 10)
	wc := workerclient.New(stubLLM{}, c, breakers, led, ledger.NewCostModel(), workerclient.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, time.Second)
	return NewIdeation(wc, breakers, "gpt-4o-mini", 500, 5*time.Minute, 12000)
}

func TestIdeation_ProcessReturnsResponseWithCost(t *testing.T) {
	w := newTestIdeation(t)
	req := domain.Request{UserID: "u1", ProjectID: "p1", Content: "Blog about quantum computing"}
	pc := domain.ProjectContext{UserPreferences: domain.UserPreferences{Personality: domain.PersonalityCasual}}

	resp, err := w.Process(context.Background(), req, pc)
	require.NoError(t, err)
	assert.Equal(t, "brainstormed outline", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Metadata.Model)
	assert.Greater(t, resp.Metadata.TokenUsage.CostUSD, 0.0)
}

func TestIdeation_ValidateRejectsOversizedContent(t *testing.T) {
	w := newTestIdeation(t)
	req := domain.Request{Content: strings.Repeat("a", 13000)}

	err := w.Validate(context.Background(), req, domain.ProjectContext{})
	require.Error(t, err)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestIdeation_HealthCheckReflectsBreaker(t *testing.T) {
	w := newTestIdeation(t)
	assert.NoError(t, w.HealthCheck(context.Background()))
}

func TestRegistry_GetAndIsHealthy(t *testing.T) {
	r := NewRegistry()
	w := newTestIdeation(t)
	r.Register(w)

	assert.Equal(t, domain.WorkerIdeation, r.Get(domain.WorkerIdeation).Kind())
	assert.True(t, r.IsHealthy(domain.WorkerIdeation))
	assert.False(t, r.IsHealthy(domain.WorkerRefiner), "unregistered worker is unhealthy")
}

func TestBuildSystemContext_IncludesPreferencesAndPhaseHistory(t *testing.T) {
	w := newTestIdeation(t)
	lw := w.(interface {
		BuildSystemContext(domain.ProjectContext) string
	})
	pc := domain.ProjectContext{
		UserPreferences: domain.UserPreferences{Personality: domain.PersonalityFormal, Experience: domain.ExperienceAdvanced},
		PreviousPhases:  []domain.PreviousPhase{{WorkerKind: domain.WorkerIdeation, Status: domain.PhaseCompleted}},
	}
	ctx := lw.BuildSystemContext(pc)
	assert.Contains(t, ctx, "formal")
	assert.Contains(t, ctx, "ideation=completed")
}
