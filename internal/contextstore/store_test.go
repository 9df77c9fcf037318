package contextstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]domain.ProjectContext
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string]domain.ProjectContext)} }

func (m *memBackend) SaveContext(_ domain.Context, key string, value domain.ProjectContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) LoadContext(_ domain.Context, key string) (domain.ProjectContext, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) DeleteContext(_ domain.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBackend) CleanupExpired(_ domain.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, v := range m.data {
		if v.UpdatedAt.Before(cutoff) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

type fakeLoader struct{ calls int }

func (f *fakeLoader) Load(_ domain.Context, projectID, conversationID string) (domain.ProjectContext, error) {
	f.calls++
	return domain.ProjectContext{ProjectID: projectID, ConversationID: conversationID, ProjectContent: "fresh"}, nil
}

func TestStore_GetConstructsViaLoaderOnFullMiss(t *testing.T) {
	loader := &fakeLoader{}
	s := New(newMemBackend(), loader, 10, time.Hour, time.Second)

	pc, err := s.Get(context.Background(), "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", pc.ProjectContent)
	assert.Equal(t, 1, loader.calls)

	// Second read hits the in-memory tier, not the loader again.
	_, err = s.Get(context.Background(), "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}

func TestStore_PutThenGetHitsMemory(t *testing.T) {
	loader := &fakeLoader{}
	s := New(newMemBackend(), loader, 10, time.Hour, time.Second)

	pc := domain.ProjectContext{ProjectID: "p2", ConversationID: "c2", ProjectContent: "draft v2"}
	s.Put(context.Background(), pc)

	got, err := s.Get(context.Background(), "p2", "c2")
	require.NoError(t, err)
	assert.Equal(t, "draft v2", got.ProjectContent)
	assert.Equal(t, 0, loader.calls)
}

func TestStore_PutPersistsToBackendEventually(t *testing.T) {
	backend := newMemBackend()
	s := New(backend, nil, 10, time.Hour, time.Second)

	pc := domain.ProjectContext{ProjectID: "p3", ConversationID: "c3", ProjectContent: "persisted"}
	s.Put(context.Background(), pc)

	assert.Eventually(t, func() bool {
		v, ok, _ := backend.LoadContext(context.Background(), Key("p3", "c3"))
		return ok && v.ProjectContent == "persisted"
	}, time.Second, 5*time.Millisecond)
}

func TestStore_LRUEvictsOldest(t *testing.T) {
	s := New(nil, nil, 2, time.Hour, time.Second)

	s.Put(context.Background(), domain.ProjectContext{ProjectID: "p1", ConversationID: "c1"})
	s.Put(context.Background(), domain.ProjectContext{ProjectID: "p2", ConversationID: "c2"})
	s.Put(context.Background(), domain.ProjectContext{ProjectID: "p3", ConversationID: "c3"})

	_, ok := s.getMemory(Key("p1", "c1"))
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = s.getMemory(Key("p3", "c3"))
	assert.True(t, ok)
}

func TestStore_TTLExpiry(t *testing.T) {
	s := New(nil, nil, 10, time.Millisecond, time.Second)
	s.Put(context.Background(), domain.ProjectContext{ProjectID: "p1", ConversationID: "c1"})
	time.Sleep(5 * time.Millisecond)

	_, ok := s.getMemory(Key("p1", "c1"))
	assert.False(t, ok)
}

func TestStore_Sweep(t *testing.T) {
	backend := newMemBackend()
	s := New(backend, nil, 10, 5*time.Millisecond, time.Second)
	s.Put(context.Background(), domain.ProjectContext{ProjectID: "p1", ConversationID: "c1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartSweep(ctx, 10*time.Millisecond)
	defer s.Stop()

	assert.Eventually(t, func() bool {
		_, ok := s.getMemory(Key("p1", "c1"))
		return !ok
	}, time.Second, 5*time.Millisecond)
}
