// Package reasoner provides the language-model client used by the pipeline
// stages. It speaks the OpenAI-compatible chat-completions protocol, which
// covers Groq, OpenAI and self-hosted gateways alike.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL points at Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// DefaultModel is used when no model is configured.
const DefaultModel = "openai/gpt-oss-120b"

// completionTemperature keeps outputs focused while leaving room for the
// model to phrase advice naturally.
const completionTemperature = 0.4

// Message is a single turn in a chat-completions conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client produces structured completions for the pipeline stages.
type Client interface {
	// Complete sends a system prompt and one user message with JSON mode
	// enabled and returns the raw response content.
	Complete(ctx context.Context, system, user string) (string, error)

	// CompleteMessages sends an arbitrary conversation. jsonMode forces the
	// model to emit a JSON object.
	CompleteMessages(ctx context.Context, messages []Message, jsonMode bool) (string, error)
}

// HTTPClient implements Client against any OpenAI-compatible API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the given endpoint. Empty baseURL and
// model fall back to the Groq defaults.
func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, system, user string) (string, error) {
	return c.CompleteMessages(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, true)
}

// CompleteMessages implements Client.
func (c *HTTPClient) CompleteMessages(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: completionTemperature,
	}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("reasoner: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("reasoner: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("reasoner: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("reasoner: status %d: %s", resp.StatusCode, string(msg))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("reasoner: decode response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("reasoner: api error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("reasoner: empty completion")
	}
	return result.Choices[0].Message.Content, nil
}
