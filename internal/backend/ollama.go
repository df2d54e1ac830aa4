package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  OllamaOptions   `json:"options"`
}

// OllamaMessage is one chat turn in an Ollama request or response.
type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaOptions carries the sampling parameters Ollama understands.
type OllamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// OllamaResponse represents the response from Ollama API
type OllamaResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         OllamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int64         `json:"prompt_eval_count"`
	EvalCount       int64         `json:"eval_count"`
}

// Ollama calls a local Ollama server's /api/chat endpoint.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllama(baseURL, model string, httpClient *http.Client) *Ollama {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
	}
}

func (p *Ollama) Name() string { return "ollama" }

func (p *Ollama) Complete(ctx context.Context, req Request) (Completion, error) {
	reqMessages := make([]OllamaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		reqMessages = append(reqMessages, OllamaMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.Messages {
		reqMessages = append(reqMessages, OllamaMessage{Role: string(turn.Role), Content: turn.Content})
	}

	reqBody := OllamaRequest{
		Model:    p.model,
		Messages: reqMessages,
		Stream:   false,
		Options: OllamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to send request (is Ollama running?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var apiResp OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return Completion{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Message.Content == "" {
		return Completion{}, fmt.Errorf("ollama: %w", ErrEmptyCompletion)
	}

	return Completion{
		Text:  apiResp.Message.Content,
		Model: apiResp.Model,
		Usage: Usage{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
		},
	}, nil
}
