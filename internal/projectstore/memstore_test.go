package projectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

func TestMemStore_UnknownProjectReturnsZeroStatus(t *testing.T) {
	s := New()
	status, err := s.LoadProjectStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatus{}, status)
}

func TestMemStore_SetAndLoadStatus(t *testing.T) {
	s := New()
	s.SetStatus("p1", domain.ProjectStatus{ActivePhase: domain.WorkerRefiner, ContentLength: 42})

	status, err := s.LoadProjectStatus(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerRefiner, status.ActivePhase)
	assert.Equal(t, 42, status.ContentLength)
}

func TestMemStore_CompletePhaseAppendsAndAdvances(t *testing.T) {
	s := New()
	s.SetStatus("p1", domain.ProjectStatus{ActivePhase: domain.WorkerIdeation})

	s.CompletePhase("p1", domain.WorkerIdeation, domain.WorkerRefiner, 600, "outline agreed")

	status, err := s.LoadProjectStatus(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, status.PreviousPhases, 1)
	assert.Equal(t, domain.WorkerIdeation, status.PreviousPhases[0].WorkerKind)
	assert.Equal(t, domain.PhaseCompleted, status.PreviousPhases[0].Status)
	assert.Equal(t, domain.WorkerRefiner, status.ActivePhase)
	assert.Equal(t, domain.WorkerIdeation, status.LastWorker)
	assert.Equal(t, 600, status.ContentLength)
}
