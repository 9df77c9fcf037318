package messagestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

func TestMemStore_AppendPreservesPerConversationOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, domain.Message{ID: "1", ConversationID: "c1", Role: domain.MessageUser}))
	require.NoError(t, s.Append(ctx, domain.Message{ID: "2", ConversationID: "c2", Role: domain.MessageUser}))
	require.NoError(t, s.Append(ctx, domain.Message{ID: "3", ConversationID: "c1", Role: domain.MessageAgent}))

	c1 := s.ForConversation("c1")
	require.Len(t, c1, 2)
	assert.Equal(t, "1", c1[0].ID)
	assert.Equal(t, "3", c1[1].ID)
	assert.Len(t, s.ForConversation("c2"), 1)
}

func TestMemStore_ForConversationReturnsSnapshot(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, domain.Message{ID: "1", ConversationID: "c1", Role: domain.MessageUser}))

	snap := s.ForConversation("c1")
	snap[0].ID = "mutated"
	assert.Equal(t, "1", s.ForConversation("c1")[0].ID)
}

func TestMemStore_UnknownConversationIsEmpty(t *testing.T) {
	s := NewMemStore()
	assert.Empty(t, s.ForConversation("missing"))
}
