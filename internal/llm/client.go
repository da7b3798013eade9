// Package llm is the client for the external reasoning service. It speaks
// the OpenAI-compatible chat completions dialect and retries transient
// failures with exponential backoff before giving up.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 3 // initial call + two retries
	initialBackoff = 500 * time.Millisecond
)

// Message is a single chat message in the provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider's answer to a completion call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Completer is the interface consumers depend on; *Client implements it.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Client communicates with an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a Client for the given endpoint, key, and model.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Model string `json:"model"`
}

// transientError marks failures worth retrying: rate limits, server-side
// errors, and network-level failures.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	_, ok := err.(*transientError)
	return ok
}

// Complete sends a chat completion request and returns the assistant text.
// Transient failures are retried with exponential backoff up to two times;
// the final error is returned once attempts are exhausted.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxAttempts {
		resp, err := c.doComplete(ctx, body)
		if err == nil {
			return resp, nil
		}

		if !isTransient(err) {
			return Response{}, err
		}

		lastErr = err
		if attempt < maxAttempts-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return Response{}, fmt.Errorf("completion failed after %d attempts: %w", maxAttempts, lastErr)
}

func buildMessages(req Request) []Message {
	var msgs []Message
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}
	if strings.TrimSpace(req.UserPrompt) != "" {
		msgs = append(msgs, Message{Role: "user", Content: req.UserPrompt})
	}
	return msgs
}

func (c *Client) doComplete(ctx context.Context, body []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, &transientError{fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Response{}, &transientError{fmt.Errorf("provider returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return Response{}, fmt.Errorf("provider returned no choices")
	}

	model := result.Model
	if model == "" {
		model = c.model
	}
	return Response{
		Text:  result.Choices[0].Message.Content,
		Model: model,
		Usage: result.Usage,
	}, nil
}
