package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

type fakeHealth struct{ unhealthy map[domain.WorkerKind]bool }

func (f *fakeHealth) IsHealthy(kind domain.WorkerKind) bool { return !f.unhealthy[kind] }

func TestRoute_FreshIdeation(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	rc := domain.RoutingContext{CurrentPhase: domain.WorkerIdeation, RequestType: domain.RequestNewConversation}

	worker, err := r.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerIdeation, worker)
}

func TestRoute_PhaseAwareRefiner(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	rc := domain.RoutingContext{
		CurrentPhase:   domain.WorkerRefiner,
		PreviousPhases: []domain.PreviousPhase{{WorkerKind: domain.WorkerIdeation, Status: domain.PhaseCompleted}},
	}

	worker, err := r.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerRefiner, worker)
}

func TestRoute_FactCheckerOnMatureContent(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	rc := domain.RoutingContext{
		PreviousPhases: []domain.PreviousPhase{{WorkerKind: domain.WorkerIdeation}, {WorkerKind: domain.WorkerRefiner}},
		ContentLength:  600,
	}

	worker, err := r.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerFactChecker, worker)
}

func TestRoute_PhaseTransitionResolvesCurrentPhase(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	rc := domain.RoutingContext{CurrentPhase: domain.WorkerMedia, RequestType: domain.RequestPhaseTransition}

	worker, err := r.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerMedia, worker)
}

func TestRoute_PhaseTransitionUnhealthyFailsFast(t *testing.T) {
	r := New(&fakeHealth{unhealthy: map[domain.WorkerKind]bool{domain.WorkerMedia: true}}, domain.WorkerIdeation)
	rc := domain.RoutingContext{CurrentPhase: domain.WorkerMedia, RequestType: domain.RequestPhaseTransition}

	_, err := r.Route(rc)
	require.Error(t, err)
	var noAgent *domain.NoAgentAvailableError
	require.ErrorAs(t, err, &noAgent)
}

func TestRoute_FallbackWhenNoRuleMatches(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	rc := domain.RoutingContext{}

	worker, err := r.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerIdeation, worker)
}

func TestRoute_SkipsUnhealthyTargetFallsThroughToNextRule(t *testing.T) {
	r := New(&fakeHealth{unhealthy: map[domain.WorkerKind]bool{domain.WorkerRefiner: true}}, domain.WorkerIdeation)
	rc := domain.RoutingContext{
		CurrentPhase:   domain.WorkerRefiner,
		PreviousPhases: []domain.PreviousPhase{{WorkerKind: domain.WorkerIdeation, Status: domain.PhaseCompleted}},
	}

	worker, err := r.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerIdeation, worker, "refiner is unhealthy so it falls through to the fallback")
}

func TestRoute_NoHealthyWorkerReturnsNoAgentAvailable(t *testing.T) {
	r := New(&fakeHealth{unhealthy: map[domain.WorkerKind]bool{domain.WorkerIdeation: true}}, domain.WorkerIdeation)
	rc := domain.RoutingContext{}

	_, err := r.Route(rc)
	require.Error(t, err)
	var noAgent *domain.NoAgentAvailableError
	require.ErrorAs(t, err, &noAgent)
}

func TestRoute_Deterministic(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	rc := domain.RoutingContext{CurrentPhase: domain.WorkerRefiner}

	w1, err1 := r.Route(rc)
	w2, err2 := r.Route(rc)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, w1, w2)
}

func TestAddRule_PreservesDescendingPriorityOrder(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	r.AddRule(Rule{Priority: 95, Target: domain.WorkerFactChecker, Description: "custom", Predicate: func(domain.RoutingContext) bool { return false }})

	rules := r.Rules()
	for i := 1; i < len(rules); i++ {
		assert.GreaterOrEqual(t, rules[i-1].Priority, rules[i].Priority)
	}
}

func TestRemoveRule_DropsNamedRule(t *testing.T) {
	r := New(&fakeHealth{}, domain.WorkerIdeation)
	before := len(r.Rules())
	r.RemoveRule("fallback")
	assert.Equal(t, before-1, len(r.Rules()))
}
