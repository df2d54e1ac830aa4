package backend

import (
	"context"
	"fmt"
	"net/http"

	"RoleplayChat/internal/session"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI calls OpenAI-compatible chat completion APIs: OpenAI itself,
// Gemini's compatibility endpoint and Grok.
type OpenAI struct {
	client openai.Client
	name   string
	model  string
}

// NewOpenAI creates a client for an OpenAI-compatible endpoint.
// An empty baseURL uses the SDK default.
func NewOpenAI(name, apiKey, baseURL, model string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		name:   name,
		model:  model,
	}
}

func (p *OpenAI) Name() string { return p.name }

func (p *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: buildOpenAIMessages(req),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("%s completion failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Completion{}, fmt.Errorf("%s: %w", p.name, ErrEmptyCompletion)
	}

	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// buildOpenAIMessages puts the system prompt first, then the turns in order.
func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		params = append(params, openai.SystemMessage(req.System))
	}
	for _, turn := range req.Messages {
		switch turn.Role {
		case session.RoleUser:
			params = append(params, openai.UserMessage(turn.Content))
		case session.RoleAssistant:
			params = append(params, openai.AssistantMessage(turn.Content))
		}
	}
	return params
}
