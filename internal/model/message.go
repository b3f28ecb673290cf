package model

import "time"

// MessageType is the payload kind of a chat message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeFile  MessageType = "file"
)

// Message is a single chat message. Identity is the ID field: the same
// message may arrive through both the REST history fetch and the realtime
// push, and consumers deduplicate by id.
type Message struct {
	ID             int64          `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       int64          `json:"senderId"`
	Content        string         `json:"content"`
	MessageType    MessageType    `json:"messageType"`
	CreatedAt      time.Time      `json:"createdAt"`

	// Denormalized sender info; population varies by endpoint.
	SenderUsername  string `json:"senderUsername,omitempty"`
	SenderAvatarURL string `json:"senderAvatarUrl,omitempty"`
	Sender          *User  `json:"sender,omitempty"`
}

// SendMessageRequest is the REST body for creating-or-continuing a
// conversation via a message. The server resolves the conversation from the
// participant pair.
type SendMessageRequest struct {
	RecipientID int64  `json:"recipientId"`
	Content     string `json:"content"`
}
