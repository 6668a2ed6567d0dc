package platform

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Turn is one entry of the history handed to the generation backend.
type Turn struct {
	Role    string
	Content string
}

// Generator produces one completion for a conversation history.
type Generator interface {
	Complete(ctx context.Context, history []Turn) (string, error)
}

// LLMClient talks to an OpenAI-compatible completion endpoint.
type LLMClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewLLMClient(cfg Config) *LLMClient {
	return &LLMClient{
		client: openai.NewClient(
			option.WithBaseURL(cfg.LLMBaseURL),
			option.WithAPIKey(cfg.LLMAPIKey),
		),
		model:   cfg.LLMModel,
		timeout: cfg.LLMTimeout,
	}
}

// Complete requests a single completion for the history. The call is
// bounded by the configured timeout; an answer without any choice is
// reported as an error rather than returned as empty text.
func (l *LLMClient) Complete(ctx context.Context, history []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{}),
		Model:    openai.F(l.model),
	}
	for _, turn := range history {
		var content any = turn.Content
		params.Messages.Value = append(params.Messages.Value, openai.ChatCompletionMessageParam{
			Role:    openai.F(openai.ChatCompletionMessageParamRole(turn.Role)),
			Content: openai.F(content),
		})
	}

	completion, err := l.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("completion contained no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
