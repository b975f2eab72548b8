// Package llm is the provider-agnostic LLM client shared by the
// dialogue driver and the converter's branch-name generator.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Role mirrors the OpenAI chat-completions role enum.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single Complete call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Reply is the model's response text for one turn.
type Reply struct {
	Content string
}

// TokenUsage reports token accounting for billing/telemetry.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Client is the minimal surface the dialogue driver and converter need.
// A single concrete implementation (HTTPClient) backs it; the interface
// exists so tests can substitute a fake without touching the network.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (Reply, TokenUsage, error)
}

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint.
// Any self-hosted or vendor proxy that speaks the same wire format
// (LiteLLM, vLLM, Ollama's OpenAI shim, OpenAI itself) works unmodified.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL (e.g.
// "https://api.openai.com/v1") authenticated with apiKey.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

var _ Client = (*HTTPClient)(nil)

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends messages to the chat-completions endpoint and returns the
// first choice's content along with token usage.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message, opts Options) (Reply, TokenUsage, error) {
	reqBody := chatCompletionRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Reply{}, TokenUsage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Reply{}, TokenUsage{}, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, TokenUsage{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, TokenUsage{}, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reply{}, TokenUsage{}, fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Reply{}, TokenUsage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Reply{}, TokenUsage{}, fmt.Errorf("llm: no choices in response")
	}

	return Reply{Content: parsed.Choices[0].Message.Content},
		TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}, nil
}
