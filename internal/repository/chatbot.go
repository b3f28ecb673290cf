package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openvibe/messaging-client/internal/model"
)

// SendChatbotMessage sends a message to the support chatbot and returns the
// bot's reply.
func (c *Client) SendChatbotMessage(ctx context.Context, content string) (model.ChatbotReply, error) {
	body := struct {
		Content string `json:"content"`
	}{Content: content}

	data, err := c.do(ctx, http.MethodPost, "/api/chatbot/message", nil, body)
	if err != nil {
		return model.ChatbotReply{}, err
	}
	var reply model.ChatbotReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return model.ChatbotReply{}, fmt.Errorf("decode chatbot reply: %w", err)
	}
	if !reply.Success && reply.Message != "" {
		return model.ChatbotReply{}, fmt.Errorf("chatbot: %s", reply.Message)
	}
	return reply, nil
}

// ChatbotConversation fetches the current user's chatbot thread.
func (c *Client) ChatbotConversation(ctx context.Context) (model.ChatbotConversation, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/chatbot/conversation", nil, nil)
	if err != nil {
		return model.ChatbotConversation{}, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return model.ChatbotConversation{}, err
	}
	var conv model.ChatbotConversation
	if err := json.Unmarshal(payload, &conv); err != nil {
		return model.ChatbotConversation{}, fmt.Errorf("decode chatbot conversation: %w", err)
	}
	return conv, nil
}

// ChatbotHealth checks the chatbot endpoint.
func (c *Client) ChatbotHealth(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/chatbot/health", nil, nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
