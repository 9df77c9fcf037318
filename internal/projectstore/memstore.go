// Package projectstore implements domain.ProjectStore: the admission-time
// read of a project's active phase, phase history, and draft length that
// the orchestrator needs to build a RoutingContext. Project
// creation and mutation themselves are owned by the HTTP route handlers
// and persistence layer this runtime treats as
// an opaque collaborator; this store only models the read surface plus
// the minimal admin mutation (phase transitions) the orchestrator's own
// tests and the fact-checker's "content has matured" rule need to exercise.
package projectstore

import (
	"sync"
	"time"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// MemStore is a mutex-guarded, in-memory domain.ProjectStore, used in
// tests and as a standalone store when no Postgres-backed project service
// is wired in.
type MemStore struct {
	mu       sync.RWMutex
	projects map[string]domain.ProjectStatus
}

// New constructs an empty MemStore.
func New() *MemStore {
	return &MemStore{projects: make(map[string]domain.ProjectStatus)}
}

// LoadProjectStatus implements domain.ProjectStore. An unknown projectID
// returns the zero ProjectStatus (no phases yet), never an error: a
// project with no dispatched messages is a legal, if uninteresting, state.
func (s *MemStore) LoadProjectStatus(_ domain.Context, projectID string) (domain.ProjectStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects[projectID], nil
}

// SetStatus overwrites the snapshot for projectID, used to seed test
// fixtures and by collaborators that own phase transitions.
func (s *MemStore) SetStatus(projectID string, status domain.ProjectStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = status
}

// CompletePhase appends a completed phase entry for kind to projectID's
// history and advances the active phase to next
// (pending -> active -> completed).
func (s *MemStore) CompletePhase(projectID string, kind, next domain.WorkerKind, contentLength int, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.projects[projectID]
	status.PreviousPhases = append(status.PreviousPhases, domain.PreviousPhase{
		WorkerKind:  kind,
		Status:      domain.PhaseCompleted,
		Summary:     summary,
		CompletedAt: time.Now(),
	})
	status.LastWorker = kind
	status.ActivePhase = next
	status.ContentLength = contentLength
	s.projects[projectID] = status
}
