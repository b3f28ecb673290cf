// Package llm provides the chatbot's language-model providers.
package llm

import (
	"context"
)

// ChatMessage is one turn of the chatbot conversation, oldest first.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client is the interface for chatbot reply providers.
type Client interface {
	// Reply generates the assistant's next turn given the conversation so far.
	Reply(ctx context.Context, messages []ChatMessage) (string, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderCanned    Provider = "canned"
)

// NewClient creates a client for the given provider. An empty API key falls
// back to the canned provider so the chatbot works without credentials.
func NewClient(provider Provider, apiKey string) (Client, error) {
	if apiKey == "" {
		return NewCannedClient(), nil
	}
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	case ProviderCanned:
		return NewCannedClient(), nil
	default:
		return NewAnthropicClient(apiKey)
	}
}
