package model

import (
	"encoding/json"
	"time"
)

// The backend answers in several envelope shapes depending on the endpoint
// and its version: a bare array or object, a page envelope, or a success
// wrapper around either. The types below describe those wire shapes; the
// repository normalizes them before anything else sees them.

// Envelope is the success/data wrapper some endpoints use.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Page is the paginated envelope shape.
type Page[T any] struct {
	Content       []T   `json:"content"`
	PageNumber    int   `json:"pageNumber"`
	PageSize      int   `json:"pageSize"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Last          bool  `json:"last"`
}

// ConversationSummary is the lightweight conversation representation the
// list endpoint serves: flat fields for the other participant instead of an
// embedded participant list.
type ConversationSummary struct {
	ID                 int64     `json:"id"`
	OtherUserID        int64     `json:"otherUserId"`
	OtherUsername      string    `json:"otherUsername"`
	OtherUserAvatarURL string    `json:"otherUserAvatarUrl,omitempty"`
	LastMessage        *Message  `json:"lastMessage,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
	UnreadCount        int       `json:"unreadCount,omitempty"`
}

// Conversation expands the summary into the canonical shape, synthesizing
// the other participant from the flat fields. The endpoint does not serve a
// separate createdAt, so updatedAt stands in for it.
func (s ConversationSummary) Conversation(current User) Conversation {
	participants := []Participant{current.AsParticipant()}
	if s.OtherUserID != 0 {
		other := User{
			ID:        s.OtherUserID,
			Username:  s.OtherUsername,
			FullName:  s.OtherUsername,
			AvatarURL: s.OtherUserAvatarURL,
		}
		participants = append(participants, other.AsParticipant())
	}
	return Conversation{
		ID:           ConversationID(s.ID),
		Participants: participants,
		LastMessage:  s.LastMessage,
		UnreadCount:  s.UnreadCount,
		CreatedAt:    s.UpdatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// ChatbotMessage is one turn in the support chatbot thread.
type ChatbotMessage struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatbotReply is the response to a chatbot message.
type ChatbotReply struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
	BotMessage     ChatbotMessage `json:"botMessage"`
	ConversationID int64          `json:"conversationId"`
}

// ChatbotConversation describes the current user's chatbot thread.
type ChatbotConversation struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"userId"`
	BotUsername string           `json:"botUsername"`
	Messages    []ChatbotMessage `json:"messages,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
