package aiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"yarn-agent/internal/classifier"
	"yarn-agent/model"
)

var (
	ErrNoAPIKey     = errors.New("llm api key not configured")
	ErrInvalidLabel = errors.New("llm returned an invalid label")
)

// LLMConfig configures an OpenAI-compatible chat endpoint. Ollama is reached
// through its /v1 compatibility API.
type LLMConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	// MaxTokens bounds the JSON answer.
	MaxTokens int
	// DefaultConfidence is used when the model omits a confidence.
	DefaultConfidence float64
}

func NewOpenAIClient(cfg LLMConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(oc)
}

// LLMBackend classifies with a chat completion that answers in JSON.
type LLMBackend struct {
	api    *openai.Client
	cfg    LLMConfig
	task   Task
	group  singleflight.Group
	logger *zap.Logger
}

func NewLLMBackend(api *openai.Client, cfg LLMConfig, task Task, logger *zap.Logger) *LLMBackend {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 100
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 0.7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMBackend{api: api, cfg: cfg, task: task, logger: logger}
}

func (b *LLMBackend) Name() string { return "llm" }

type llmAnswer struct {
	label      model.Label
	confidence float64
}

func (b *LLMBackend) Infer(ctx context.Context, text string, hint classifier.Hint) (*classifier.Prediction, error) {
	if b.cfg.APIKey == "" && b.cfg.Provider != "ollama" {
		return nil, ErrNoAPIKey
	}

	key := b.task.Name + "|" + string(hint.Step) + "|" + text
	v, err, shared := b.group.Do(key, func() (interface{}, error) {
		return b.complete(ctx, text, hint)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		b.logger.Debug("[LLM] shared in-flight classification", zap.String("task", b.task.Name))
	}
	a := v.(llmAnswer)
	return &classifier.Prediction{Label: a.label, Confidence: a.confidence}, nil
}

func (b *LLMBackend) complete(ctx context.Context, text string, hint classifier.Hint) (llmAnswer, error) {
	step := string(hint.Step)
	if step == "" {
		step = "unknown"
	}
	resp, err := b.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(b.task.SystemPrompt, step)},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(b.task.UserPrompt, text)},
		},
		Temperature: b.task.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	})
	if err != nil {
		return llmAnswer{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llmAnswer{}, fmt.Errorf("chat completion: no choices")
	}
	return b.parse(resp.Choices[0].Message.Content)
}

// parse reads {"<field>": "<label>", "confidence": n}, tolerating a fenced code block.
func (b *LLMBackend) parse(content string) (llmAnswer, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return llmAnswer{}, fmt.Errorf("%w: %v", ErrInvalidLabel, err)
	}
	s, _ := raw[b.task.Field].(string)
	label, ok := b.task.normalize(strings.ToLower(strings.TrimSpace(s)))
	if !ok {
		b.logger.Warn("[LLM] invalid label", zap.String("task", b.task.Name), zap.String("label", s))
		return llmAnswer{}, fmt.Errorf("%w: %q", ErrInvalidLabel, s)
	}

	conf := b.cfg.DefaultConfidence
	if c, ok := raw["confidence"].(float64); ok && c >= 0 && c <= 1 {
		conf = c
	}
	return llmAnswer{label: label, confidence: conf}, nil
}
