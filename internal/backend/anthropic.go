package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"RoleplayChat/internal/session"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(apiKey, baseURL, model string, httpClient *http.Client) *Anthropic {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(httpClient))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Complete(ctx context.Context, req Request) (Completion, error) {
	system, msgs := buildAnthropicMessages(req)
	if len(msgs) == 0 {
		return Completion{}, fmt.Errorf("anthropic: no user turn to answer")
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Completion{}, fmt.Errorf("anthropic: %w", ErrEmptyCompletion)
	}

	return Completion{
		Text:  text.String(),
		Model: string(resp.Model),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// buildAnthropicMessages converts turns to Anthropic params. The API expects
// the conversation to open with a user turn, so assistant turns that precede
// the first user turn (the seeded greeting) are folded into the system prompt.
func buildAnthropicMessages(req Request) (string, []anthropic.MessageParam) {
	system := req.System
	turns := req.Messages

	var opening []string
	for len(turns) > 0 && turns[0].Role == session.RoleAssistant {
		opening = append(opening, turns[0].Content)
		turns = turns[1:]
	}
	if len(opening) > 0 {
		prefix := "You opened the conversation with: " + strings.Join(opening, "\n")
		if system == "" {
			system = prefix
		} else {
			system = system + "\n\n" + prefix
		}
	}

	params := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		block := anthropic.NewTextBlock(turn.Content)
		switch turn.Role {
		case session.RoleUser:
			params = append(params, anthropic.NewUserMessage(block))
		case session.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(block))
		}
	}
	return system, params
}
