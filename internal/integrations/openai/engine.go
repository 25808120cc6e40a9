package openai

import (
	"context"
	"fmt"
	"strings"

	"docchat/internal/domain"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

const respondPrompt = `You are a helpful assistant. Answer the user's message clearly and concisely, using the conversation so far for context.`

const extractPrompt = `You maintain a short memory about the user. Read the user's message and extract at most one durable fact about them (a preference, a circumstance, a goal), written as a short third-person phrase such as "likes pizza" or "works as a nurse". If the message contains nothing worth remembering, reply with exactly 0 and nothing else.`

// Respond generates the bot reply. History alternates user and bot texts,
// starting with the user.
func (c *Client) Respond(ctx context.Context, req domain.ResponseRequest) (string, error) {
	out, err := c.complete(ctx, responseMessages(req), nil)
	if err != nil {
		return "", fmt.Errorf("openai: Respond: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) ExtractMemory(ctx context.Context, message string) (domain.Extraction, error) {
	zero := 0.0
	out, err := c.complete(ctx, []ChatMessage{
		{Role: roleSystem, Content: extractPrompt},
		{Role: roleUser, Content: message},
	}, &zero)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("openai: ExtractMemory: %w", err)
	}
	return domain.ParseExtraction(out), nil
}

func responseMessages(req domain.ResponseRequest) []ChatMessage {
	system := respondPrompt
	if memory := strings.TrimSpace(req.Memory); memory != "" {
		system += "\n\nWhat you remember about the user:\n" + memory
	}
	msgs := make([]ChatMessage, 0, len(req.History)+2)
	msgs = append(msgs, ChatMessage{Role: roleSystem, Content: system})
	for i, text := range req.History {
		role := roleUser
		if i%2 == 1 {
			role = roleAssistant
		}
		msgs = append(msgs, ChatMessage{Role: role, Content: text})
	}
	return append(msgs, ChatMessage{Role: roleUser, Content: req.Message})
}
