// Package memstore is an in-memory domain.LedgerStore, used in tests and as
// a standalone store when no Postgres backend is configured.
package memstore

import (
	"sync"
	"time"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// Store is a mutex-guarded, append-only in-memory ledger.
type Store struct {
	mu      sync.RWMutex
	entries []domain.LedgerEntry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{}
}

// Append adds e to the ledger. Never fails.
func (s *Store) Append(_ domain.Context, e domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// EntriesSince returns a snapshot of every entry for userID with
// CreatedAt >= since.
func (s *Store) EntriesSince(_ domain.Context, userID string, since time.Time) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntriesInRange returns entries for userID within [from, to), optionally
// filtered to workerKind.
func (s *Store) EntriesInRange(_ domain.Context, userID string, from, to time.Time, workerKind domain.WorkerKind) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		if workerKind != "" && e.WorkerKind != workerKind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
