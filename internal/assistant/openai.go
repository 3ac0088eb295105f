package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
)

// openAIAssistant talks to any OpenAI-compatible chat completions endpoint.
type openAIAssistant struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-compatible assistant. An empty baseURL uses
// the public OpenAI endpoint.
func NewOpenAI(apiKey, model, baseURL string) Assistant {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &openAIAssistant{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (a *openAIAssistant) Name() string { return ProviderOpenAI + ":" + a.model }

func (a *openAIAssistant) Complete(ctx context.Context, req Request) (*Response, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, eris.Wrapf(err, "assistant: openai status %d", apiErr.HTTPStatusCode)
		}
		return nil, eris.Wrap(err, "assistant: openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("assistant: openai returned no choices")
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}
