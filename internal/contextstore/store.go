// Package contextstore implements the two-tier context store: an
// in-memory LRU sized by contextCacheSize fronting a pluggable persistence
// backend. Reads fall memory -> persistence -> newly constructed; writes
// update memory and enqueue a best-effort persistence write.
package contextstore

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

// Loader constructs a brand new ProjectContext when neither tier has one,
// e.g. by loading project + conversation state from the collaborator
// systems this module treats as opaque. A nil Loader yields a zero-value
// context seeded with the requested ids.
type Loader interface {
	Load(ctx domain.Context, projectID, conversationID string) (domain.ProjectContext, error)
}

type lruEntry struct {
	key       string
	value     domain.ProjectContext
	expiresAt time.Time
}

// Store is the two-tier context store. It is safe for concurrent use.
type Store struct {
	backend domain.ContextStore
	loader  Loader
	ttl     time.Duration
	cap     int

	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used

	writeDeadline time.Duration

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New constructs a Store with the given LRU capacity, entry TTL, and
// best-effort background-write deadline.
func New(backend domain.ContextStore, loader Loader, capacity int, ttl time.Duration, writeDeadline time.Duration) *Store {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if writeDeadline <= 0 {
		writeDeadline = 5 * time.Second
	}
	return &Store{
		backend:       backend,
		loader:        loader,
		ttl:           ttl,
		cap:           capacity,
		items:         make(map[string]*list.Element),
		order:         list.New(),
		writeDeadline: writeDeadline,
		stopSweep:     make(chan struct{}),
	}
}

// Key derives the "{projectID}_{conversationID}" persistence key.
func Key(projectID, conversationID string) string {
	return projectID + "_" + conversationID
}

// Get loads a ProjectContext, trying memory then persistence then
// construction via the Loader. An expired entry in either tier is treated
// as a miss.
func (s *Store) Get(ctx domain.Context, projectID, conversationID string) (domain.ProjectContext, error) {
	key := Key(projectID, conversationID)

	if pc, ok := s.getMemory(key); ok {
		return pc, nil
	}

	if s.backend != nil {
		pc, ok, err := s.backend.LoadContext(ctx, key)
		if err != nil {
			slog.Warn("context store persistence load failed", slog.String("key", key), slog.Any("error", err))
		} else if ok && time.Since(pc.UpdatedAt) < s.ttl {
			s.putMemory(key, pc)
			return pc, nil
		}
	}

	if s.loader != nil {
		pc, err := s.loader.Load(ctx, projectID, conversationID)
		if err != nil {
			return domain.ProjectContext{}, err
		}
		pc.ProjectID = projectID
		pc.ConversationID = conversationID
		if pc.UpdatedAt.IsZero() {
			pc.UpdatedAt = time.Now()
		}
		s.putMemory(key, pc)
		return pc, nil
	}

	return domain.ProjectContext{ProjectID: projectID, ConversationID: conversationID, UpdatedAt: time.Now()}, nil
}

// Put writes pc into memory and enqueues a best-effort persistence write.
// Persistence failure is logged and never propagated.
func (s *Store) Put(ctx domain.Context, pc domain.ProjectContext) {
	pc.UpdatedAt = time.Now()
	key := Key(pc.ProjectID, pc.ConversationID)
	s.putMemory(key, pc)

	if s.backend == nil {
		return
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeDeadline)
		defer cancel()
		if err := s.backend.SaveContext(writeCtx, key, pc); err != nil {
			slog.Error("context store background persistence write failed", slog.String("key", key), slog.Any("error", err))
		}
	}()
}

func (s *Store) getMemory(key string) (domain.ProjectContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return domain.ProjectContext{}, false
	}
	e := el.Value.(*lruEntry)
	if time.Now().After(e.expiresAt) {
		s.order.Remove(el)
		delete(s.items, key)
		metrics.ContextStoreEvictionsTotal.WithLabelValues("ttl").Inc()
		metrics.ContextStoreSize.Set(float64(len(s.items)))
		return domain.ProjectContext{}, false
	}
	s.order.MoveToFront(el)
	return e.value, true
}

func (s *Store) putMemory(key string, pc domain.ProjectContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		el.Value.(*lruEntry).value = pc
		el.Value.(*lruEntry).expiresAt = time.Now().Add(s.ttl)
		s.order.MoveToFront(el)
		return
	}

	if s.order.Len() >= s.cap {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*lruEntry).key)
			metrics.ContextStoreEvictionsTotal.WithLabelValues("lru").Inc()
		}
	}

	el := s.order.PushFront(&lruEntry{key: key, value: pc, expiresAt: time.Now().Add(s.ttl)})
	s.items[key] = el
	metrics.ContextStoreSize.Set(float64(len(s.items)))
}

// StartSweep launches the periodic eviction sweep (every 60s by
// default) that clears expired memory entries and asks the persistence
// backend to clean up its own expired rows. Call Stop to end it.
func (s *Store) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopSweep:
				return
			case <-ticker.C:
				s.sweepMemory()
				s.sweepBackend(ctx)
			}
		}
	}()
}

// Stop ends a running sweep goroutine. Safe to call once.
func (s *Store) Stop() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

func (s *Store) sweepMemory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*lruEntry)
		if now.After(e.expiresAt) {
			s.order.Remove(el)
			delete(s.items, e.key)
			metrics.ContextStoreEvictionsTotal.WithLabelValues("ttl").Inc()
		}
		el = prev
	}
	metrics.ContextStoreSize.Set(float64(len(s.items)))
}

func (s *Store) sweepBackend(ctx context.Context) {
	if s.backend == nil {
		return
	}
	n, err := s.backend.CleanupExpired(ctx, time.Now().Add(-s.ttl))
	if err != nil {
		slog.Warn("context store backend sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		metrics.ContextStoreEvictionsTotal.WithLabelValues("backend_sweep").Add(float64(n))
	}
}
