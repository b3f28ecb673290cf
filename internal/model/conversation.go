package model

import (
	"sync/atomic"
	"time"
)

// ConversationID identifies a conversation. Positive values are backend ids;
// negative values are client-only placeholders for conversations that have
// not been persisted yet. The sign convention matches the wire format, but
// callers classify ids through Persisted/Pending instead of comparing signs.
type ConversationID int64

// Persisted reports whether the id refers to a backend conversation.
func (id ConversationID) Persisted() bool { return id > 0 }

// Pending reports whether the id is a client-only placeholder.
func (id ConversationID) Pending() bool { return id < 0 }

// Zero reports whether no conversation is referenced.
func (id ConversationID) Zero() bool { return id == 0 }

var (
	placeholderBase = time.Now().UnixMilli()
	placeholderSeq  atomic.Int64
)

// NewPlaceholderID returns a fresh negative placeholder id. Ids are derived
// from the local clock at process start plus an atomic counter, so two
// placeholders created in the same clock tick remain distinct.
func NewPlaceholderID() ConversationID {
	return ConversationID(-(placeholderBase + placeholderSeq.Add(1)))
}

// Conversation is a thread between the current user and at least one other
// participant.
type Conversation struct {
	ID           ConversationID `json:"id"`
	Participants []Participant  `json:"participants"`
	LastMessage  *Message       `json:"lastMessage,omitempty"`
	UnreadCount  int            `json:"unreadCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// HasParticipant reports whether the given user takes part in the conversation.
func (c Conversation) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the first participant whose id differs from
// currentID. Display logic for group conversations collapses to the other
// participants, so the first one is the send target.
func (c Conversation) OtherParticipant(currentID int64) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID != currentID {
			return p, true
		}
	}
	return Participant{}, false
}

// NewPlaceholderConversation synthesizes a client-only conversation between
// the current user and the selected recipient. No network call is involved;
// the placeholder is replaced by the real conversation once the first send
// succeeds.
func NewPlaceholderConversation(current, recipient User) Conversation {
	now := time.Now().UTC()
	return Conversation{
		ID:           NewPlaceholderID(),
		Participants: []Participant{current.AsParticipant(), recipient.AsParticipant()},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
