package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openvibe/messaging-client/internal/model"
)

// The conversation list endpoint has drifted between a full representation
// (embedded participants) and a lightweight one (flat other-user fields),
// each optionally inside a page envelope and/or a success wrapper. One parse
// function exists per known wire shape; the discriminating fields pick one.

// Conversations fetches and normalizes the authenticated user's conversation
// list. The current user is needed to synthesize participants for the flat
// shape.
func (c *Client) Conversations(ctx context.Context, current model.User) ([]model.Conversation, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/messages/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	return c.normalizeConversations(payload, current)
}

func (c *Client) normalizeConversations(payload json.RawMessage, current model.User) ([]model.Conversation, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return []model.Conversation{}, nil
	}

	items := payload
	if payload[0] == '{' {
		var page struct {
			Content       json.RawMessage `json:"content"`
			PageNumber    *int            `json:"pageNumber"`
			TotalElements *int64          `json:"totalElements"`
		}
		if err := json.Unmarshal(payload, &page); err != nil || page.Content == nil || page.PageNumber == nil {
			return nil, fmt.Errorf("unexpected conversation payload shape")
		}
		items = bytes.TrimSpace(page.Content)
	}

	if len(items) == 0 || bytes.Equal(items, []byte("null")) || bytes.Equal(items, []byte("[]")) {
		return []model.Conversation{}, nil
	}
	if items[0] != '[' {
		return nil, fmt.Errorf("unexpected conversation payload shape")
	}

	switch {
	case firstElementHasKey(items, "participants"):
		return parseConversations(items)
	case firstElementHasKey(items, "otherUserId"):
		c.log.Debug("normalizing flat conversation summaries",
			zap.Int64("current_user_id", current.ID))
		return parseConversationSummaries(items, current)
	default:
		return nil, fmt.Errorf("unexpected conversation element shape")
	}
}

// parseConversations decodes the full representation.
func parseConversations(items json.RawMessage) ([]model.Conversation, error) {
	var conversations []model.Conversation
	if err := json.Unmarshal(items, &conversations); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return conversations, nil
}

// parseConversationSummaries decodes the lightweight representation and
// expands each summary into a canonical conversation using the current user.
func parseConversationSummaries(items json.RawMessage, current model.User) ([]model.Conversation, error) {
	var summaries []model.ConversationSummary
	if err := json.Unmarshal(items, &summaries); err != nil {
		return nil, fmt.Errorf("decode conversation summaries: %w", err)
	}
	conversations := make([]model.Conversation, 0, len(summaries))
	for _, s := range summaries {
		conversations = append(conversations, s.Conversation(current))
	}
	return conversations, nil
}

// firstElementHasKey inspects the first element of a JSON array for a
// discriminating field.
func firstElementHasKey(items json.RawMessage, key string) bool {
	var elements []json.RawMessage
	if err := json.Unmarshal(items, &elements); err != nil || len(elements) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elements[0], &fields); err != nil {
		return false
	}
	_, ok := fields[key]
	return ok
}
