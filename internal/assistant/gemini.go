package assistant

import (
	"context"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

type geminiAssistant struct {
	client *genai.Client
	model  string
}

// NewGemini creates an assistant backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model, baseURL string) (Assistant, error) {
	if apiKey == "" {
		return nil, eris.New("assistant: gemini requires an api key")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "assistant: create gemini client")
	}
	return &geminiAssistant{client: client, model: model}, nil
}

func (a *geminiAssistant) Name() string { return ProviderGemini + ":" + a.model }

func (a *geminiAssistant) Complete(ctx context.Context, req Request) (*Response, error) {
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	result, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, gc)
	if err != nil {
		return nil, eris.Wrap(err, "assistant: gemini generate content")
	}

	resp := &Response{Text: result.Text(), Model: a.model}
	if result.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  int64(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}
