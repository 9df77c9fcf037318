// Package messagestore implements the opaque conversation message-pair
// persistence port (domain.MessageStore): an in-memory store for tests and
// a Postgres-backed store for the running service.
package messagestore

import (
	"sync"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// MemStore is a mutex-guarded, append-only in-memory domain.MessageStore.
// Messages are retained per conversationID in append order so tests can
// assert the user-then-agent adjacency invariant directly.
type MemStore struct {
	mu      sync.Mutex
	byConvo map[string][]domain.Message
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byConvo: make(map[string][]domain.Message)}
}

// Append adds msg to its conversation's message list. Never fails.
func (s *MemStore) Append(_ domain.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConvo[msg.ConversationID] = append(s.byConvo[msg.ConversationID], msg)
	return nil
}

// ForConversation returns a snapshot of the messages appended for
// conversationID, in append order.
func (s *MemStore) ForConversation(conversationID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.byConvo[conversationID]))
	copy(out, s.byConvo[conversationID])
	return out
}
