// internal/ai/client.go
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

// ErrorKind classifies a generation failure for retry decisions.
type ErrorKind string

const (
	ErrorKindAuth       ErrorKind = "auth"
	ErrorKindBadRequest ErrorKind = "bad_request"
	ErrorKindModel      ErrorKind = "model_not_found"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindUpstream   ErrorKind = "upstream"
)

// GenerationError wraps an upstream failure with its retry class.
type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s error: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request can succeed.
// Bad credentials, malformed requests and unknown models cannot be fixed
// by retrying and must fail on first occurrence.
func (e *GenerationError) Retryable() bool {
	switch e.Kind {
	case ErrorKindAuth, ErrorKindBadRequest, ErrorKindModel:
		return false
	}
	return true
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type GenerationResult struct {
	Content string
	Model   string
	Usage   Usage
}

type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

const (
	maxAttempts      = 3
	retryBaseDelay   = time.Second
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 500
)

// Client calls the chat-completions endpoint with per-attempt timeouts
// and a bounded retry budget.
type Client struct {
	APIKey     string
	OrgID      string
	Endpoint   string
	HTTPClient *http.Client

	// sleep is swapped in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:     apiKey,
		Endpoint:   defaultEndpoint,
		HTTPClient: &http.Client{},
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type completionError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete runs one generation with up to three attempts and linear
// backoff between them. Non-retryable failures surface immediately.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, cfg Config) (*GenerationResult, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	var lastErr *GenerationError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.attempt(ctx, messages, cfg)
		if err == nil {
			return result, nil
		}

		var genErr *GenerationError
		if !errors.As(err, &genErr) {
			genErr = &GenerationError{Kind: ErrorKindUpstream, Err: err}
		}
		if !genErr.Retryable() {
			return nil, genErr
		}
		lastErr = genErr

		if attempt < maxAttempts {
			if err := c.sleep(ctx, time.Duration(attempt)*retryBaseDelay); err != nil {
				return nil, &GenerationError{Kind: ErrorKindTimeout, Err: err}
			}
		}
	}
	return nil, &GenerationError{
		Kind: lastErr.Kind,
		Err:  fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr.Err),
	}
}

func (c *Client) attempt(ctx context.Context, messages []ChatMessage, cfg Config) (*GenerationResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(completionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, &GenerationError{Kind: ErrorKindBadRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &GenerationError{Kind: ErrorKindBadRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if c.OrgID != "" {
		req.Header.Set("OpenAI-Organization", c.OrgID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
			return nil, &GenerationError{Kind: ErrorKindTimeout, Err: err}
		}
		return nil, &GenerationError{Kind: ErrorKindUpstream, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		var apiErr completionError
		_ = json.Unmarshal(respBody, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &GenerationError{
			Kind: classify(resp.StatusCode, msg),
			Err:  fmt.Errorf("%s (%s)", msg, apiErr.Error.Type),
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &GenerationError{Kind: ErrorKindUpstream, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return nil, &GenerationError{Kind: ErrorKindUpstream, Err: errors.New("response has no choices")}
	}

	return &GenerationResult{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Usage:   out.Usage,
	}, nil
}

func classify(status int, message string) ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusUnauthorized,
		strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "unauthorized"):
		return ErrorKindAuth
	case strings.Contains(lower, "model not found"),
		strings.Contains(lower, "does not exist"):
		return ErrorKindModel
	case status == http.StatusBadRequest,
		strings.Contains(lower, "invalid request"),
		strings.Contains(lower, "bad request"):
		return ErrorKindBadRequest
	}
	return ErrorKindUpstream
}

// modelPricing is USD per 1K tokens. Estimate only; billing reconciles
// against the provider invoice, not this table.
var modelPricing = map[string]struct{ prompt, completion float64 }{
	"gpt-4-turbo-preview": {0.01, 0.03},
	"gpt-4":               {0.03, 0.06},
	"gpt-3.5-turbo":       {0.0005, 0.0015},
}

// EstimateCost converts token usage into an approximate USD cost.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = modelPricing["gpt-3.5-turbo"]
	}
	return float64(promptTokens)/1000*pricing.prompt + float64(completionTokens)/1000*pricing.completion
}
