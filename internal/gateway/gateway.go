// Package gateway is the sole point of contact with the external language
// model. It speaks the OpenAI-compatible chat-completions API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UpstreamError wraps any network or API failure from the model backend.
// Callers translate it into a safe user-facing message; it never carries
// payload content.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream model error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// Completer is the capability the pipeline consumes: one stateless
// completion per call.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Client calls an OpenAI-compatible chat-completions endpoint. It holds no
// per-request state and is safe for concurrent use.
type Client struct {
	endpoint    string
	model       string
	apiKey      string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a gateway client. endpoint is the API base URL (the
// path /chat/completions is appended). maxTokens and temperature apply to
// every completion.
func NewClient(endpoint, model, apiKey string, maxTokens int, temperature float64, opts ...Option) *Client {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	c := &Client{
		endpoint:    endpoint,
		model:       model,
		apiKey:      apiKey,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatRequest represents the chat-completions API request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// chatMessage represents a message in the chat.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the chat-completions API response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one completion request. All failure modes, including
// context timeouts, surface as *UpstreamError.
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("sending request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit on error body
		return "", &UpstreamError{Err: fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(body))}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	if len(chatResp.Choices) == 0 {
		return "", &UpstreamError{Err: fmt.Errorf("backend returned no choices")}
	}

	return chatResp.Choices[0].Message.Content, nil
}
