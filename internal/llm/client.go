// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aiox-platform/chatbot/internal/config"
	"github.com/aiox-platform/chatbot/internal/metrics"
)

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request. User identifies the end user to
// the backend for abuse tracking.
type Request struct {
	User     string
	Messages []Message
}

// Completion is the backend's reply with the usage it reported.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	// Estimated is set when usage was computed locally.
	Estimated bool
}

// Client is a minimal chat completions client.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	tokens      *tokenCounter
	now         func() time.Time
}

// NewClient creates a new Client from cfg.
func NewClient(cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		tokens:      newTokenCounter(),
		now:         time.Now,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	User        string    `json:"user,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends req and returns the first choice. A 429 response yields an
// *APIError wrapping ErrRateLimited with the Retry-After hint.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.LLMRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		User:        req.User,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending completion request: %w", err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("parse response: no choices returned")
	}

	completion := &Completion{
		Text:  out.Choices[0].Message.Content,
		Model: out.Model,
	}
	if completion.Model == "" {
		completion.Model = c.model
	}

	if out.Usage != nil {
		completion.PromptTokens = out.Usage.PromptTokens
		completion.CompletionTokens = out.Usage.CompletionTokens
		completion.TotalTokens = out.Usage.TotalTokens
	} else {
		completion.PromptTokens = int64(c.tokens.countMessages(c.model, req.Messages))
		completion.CompletionTokens = int64(c.tokens.count(c.model, completion.Text))
		completion.Estimated = true
	}
	if completion.TotalTokens == 0 {
		completion.TotalTokens = completion.PromptTokens + completion.CompletionTokens
	}
	return completion, nil
}

func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	msg := strings.TrimSpace(string(body))
	errType := "api_error"
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		if errResp.Error.Type != "" {
			errType = errResp.Error.Type
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Type:       errType,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		Err:        mapStatusToError(resp.StatusCode),
	}
}
