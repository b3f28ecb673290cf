package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationIDClassification(t *testing.T) {
	assert.True(t, ConversationID(42).Persisted())
	assert.False(t, ConversationID(42).Pending())

	assert.True(t, ConversationID(-42).Pending())
	assert.False(t, ConversationID(-42).Persisted())

	assert.True(t, ConversationID(0).Zero())
	assert.False(t, ConversationID(0).Persisted())
	assert.False(t, ConversationID(0).Pending())
}

func TestPlaceholderIDsAreDistinct(t *testing.T) {
	seen := make(map[ConversationID]bool)
	for i := 0; i < 1000; i++ {
		id := NewPlaceholderID()
		assert.True(t, id.Pending())
		require.False(t, seen[id], "placeholder id %d repeated", id)
		seen[id] = true
	}
}

func TestOtherParticipant(t *testing.T) {
	alice := User{ID: 1, Username: "alice"}
	bob := User{ID: 2, Username: "bob"}
	conv := Conversation{
		ID:           10,
		Participants: []Participant{alice.AsParticipant(), bob.AsParticipant()},
	}

	other, ok := conv.OtherParticipant(1)
	require.True(t, ok)
	assert.Equal(t, int64(2), other.UserID)

	other, ok = conv.OtherParticipant(2)
	require.True(t, ok)
	assert.Equal(t, int64(1), other.UserID)

	solo := Conversation{Participants: []Participant{alice.AsParticipant()}}
	_, ok = solo.OtherParticipant(1)
	assert.False(t, ok)
}

func TestNewPlaceholderConversation(t *testing.T) {
	alice := User{ID: 1, Username: "alice"}
	bob := User{ID: 2, Username: "bob"}

	conv := NewPlaceholderConversation(alice, bob)
	assert.True(t, conv.ID.Pending())
	assert.True(t, conv.HasParticipant(1))
	assert.True(t, conv.HasParticipant(2))
	assert.Nil(t, conv.LastMessage)
}

func TestSummaryExpansion(t *testing.T) {
	current := User{ID: 1, Username: "alice"}
	updated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	last := Message{ID: 5, ConversationID: 10, SenderID: 2, Content: "hey", CreatedAt: updated}

	summary := ConversationSummary{
		ID:            10,
		OtherUserID:   2,
		OtherUsername: "bob",
		LastMessage:   &last,
		UpdatedAt:     updated,
		UnreadCount:   3,
	}

	conv := summary.Conversation(current)
	assert.Equal(t, ConversationID(10), conv.ID)
	assert.Equal(t, 3, conv.UnreadCount)
	assert.Equal(t, updated, conv.UpdatedAt)
	require.NotNil(t, conv.LastMessage)

	other, ok := conv.OtherParticipant(current.ID)
	require.True(t, ok)
	assert.Equal(t, "bob", other.User.Username)
	assert.Equal(t, "bob", other.User.FullName, "username stands in for the missing full name")
}
