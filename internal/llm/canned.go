package llm

import (
	"context"
	"strings"
	"sync/atomic"
)

// CannedClient is the offline chatbot provider. It answers a few known
// support questions by keyword and rotates through generic replies
// otherwise, so local development never requires an API key.
type CannedClient struct {
	next atomic.Uint32
}

// NewCannedClient creates a canned reply client.
func NewCannedClient() *CannedClient {
	return &CannedClient{}
}

// Name returns the provider name.
func (c *CannedClient) Name() string {
	return "canned"
}

var cannedReplies = []string{
	"Thanks for reaching out! Could you tell me a bit more?",
	"I see. Let me check that for you.",
	"Got it. Is there anything else I can help with?",
	"That should be sorted now. Anything else?",
}

// Reply answers the latest user turn.
func (c *CannedClient) Reply(_ context.Context, history []ChatMessage) (string, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			last = strings.ToLower(history[i].Content)
			break
		}
	}

	switch {
	case strings.Contains(last, "hello"), strings.Contains(last, "hi"):
		return "Hello! How can I help you today?", nil
	case strings.Contains(last, "password"):
		return "You can reset your password from the account settings page.", nil
	case strings.Contains(last, "bye"):
		return "Goodbye! Feel free to message me anytime.", nil
	}

	idx := c.next.Add(1) - 1
	return cannedReplies[int(idx)%len(cannedReplies)], nil
}
