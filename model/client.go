// Package model implements the streaming client for the upstream
// OpenAI-compatible chat completion API and the wire types shared with it.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/packages/ssestream"
)

const doneSentinel = "[DONE]"

// Client streams chat completions from the upstream API. It is safe for
// concurrent use; each StreamCompletion call opens its own connection.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientOptions configures a Client. BaseURL and APIKey are required.
type ClientOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("upstream API key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("upstream model is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Model returns the configured upstream model identifier.
func (c *Client) Model() string {
	return c.model
}

type completionRequest struct {
	Messages    []ChatMessage    `json:"messages"`
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// StreamCompletion opens a streaming completion request and returns the
// decoded chunk stream. Bad upstream statuses are mapped to typed errors
// here, before any chunk is yielded; the stream itself only fails on
// transport errors. Cancelling ctx closes the underlying connection.
func (c *Client) StreamCompletion(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (*Stream, error) {
	payload := completionRequest{
		Messages:    messages,
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
		Tools:       tools,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("upstream request",
		"url", url,
		"model", c.model,
		"message_count", len(messages),
		"tool_count", len(tools),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &InternalError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		message := readErrorMessage(resp.Body)
		c.logger.Warn("upstream returned error status",
			"status", resp.StatusCode,
			"message", message,
		)
		return nil, mapStatusError(resp.StatusCode, message)
	}

	return &Stream{decoder: ssestream.NewDecoder(resp)}, nil
}

// readErrorMessage extracts error.message from a JSON-shaped error body,
// falling back to the raw text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func mapStatusError(status int, message string) error {
	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Message: message}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Message: message}
	case status >= 500:
		return &UnavailableError{StatusCode: status, Message: message}
	default:
		return &UpstreamError{StatusCode: status, Message: message}
	}
}

// Stream iterates decoded chunks from one completion request. A literal
// [DONE] payload ends the stream; blank or non-JSON payload lines are
// skipped. Not restartable: call StreamCompletion again for a new pass.
type Stream struct {
	decoder ssestream.Decoder
	current StreamChunk
	err     error
	done    bool
}

// Next advances to the next chunk. It returns false at end of stream or
// on error; check Err afterwards.
func (s *Stream) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	for s.decoder.Next() {
		data := bytes.TrimSpace(s.decoder.Event().Data)
		if len(data) == 0 {
			continue
		}
		if string(data) == doneSentinel {
			s.done = true
			return false
		}
		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		s.current = chunk
		return true
	}
	if err := s.decoder.Err(); err != nil {
		s.err = &InternalError{Err: err}
	}
	return false
}

// Current returns the chunk produced by the last successful Next.
func (s *Stream) Current() StreamChunk {
	return s.current
}

func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying connection. Safe to call at any point;
// callers must close promptly on cancellation so no socket dangles.
func (s *Stream) Close() error {
	return s.decoder.Close()
}
