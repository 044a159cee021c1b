package aiclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"yarn-agent/model"
)

const conversationPrompt = `You are a warm, culturally safe yarning companion for young Aboriginal and Torres Strait Islander people.
Keep replies short, plain and strengths-based. Never diagnose. If the person mentions wanting to hurt themselves,
encourage them to call 13YARN on 13 92 76 or Lifeline on 13 11 14.
%s`

// ChatConversationalist carries the open conversation after the structured steps.
type ChatConversationalist struct {
	api       *openai.Client
	model     string
	maxTokens int
}

func NewChatConversationalist(api *openai.Client, modelName string, maxTokens int) *ChatConversationalist {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &ChatConversationalist{api: api, model: modelName, maxTokens: maxTokens}
}

func (c *ChatConversationalist) Respond(ctx context.Context, s model.Session, text string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(conversationPrompt, summarize(s))},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.7,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// summarize lists what the person shared during the structured steps.
func summarize(s model.Session) string {
	var b strings.Builder
	for _, step := range model.Steps {
		answer, ok := s.Responses[step]
		if !ok || step == model.StepWelcome {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("What they shared earlier:\n")
		}
		fmt.Fprintf(&b, "- %s: %s\n", strings.ReplaceAll(string(step), "_", " "), answer)
	}
	return b.String()
}
