package assistant

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vin-resolver/pkg/anthropic"
)

type anthropicAssistant struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an assistant backed by the Anthropic Messages API.
func NewAnthropic(apiKey, model, baseURL string) Assistant {
	var opts []anthropic.Option
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &anthropicAssistant{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (a *anthropicAssistant) Name() string { return ProviderAnthropic + ":" + a.model }

func (a *anthropicAssistant) Complete(ctx context.Context, req Request) (*Response, error) {
	temp := req.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "assistant: anthropic message")
	}

	resp.Usage.LogCost(a.model, "enrichment")

	return &Response{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
