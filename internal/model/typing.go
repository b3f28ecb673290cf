package model

// TypingIndicator is an ephemeral signal that a user is composing a message.
// At most one live entry per user is retained by consumers; there is no
// history and nothing is persisted.
type TypingIndicator struct {
	ConversationID ConversationID `json:"conversationId"`
	UserID         int64          `json:"userId"`
	Username       string         `json:"username"`
	IsTyping       bool           `json:"isTyping"`
}
