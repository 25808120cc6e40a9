package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultHTTPTimeout = 60 * time.Second

	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20
)

// ChatMessage is one role/content entry of a chat completion.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StatusError is returned when the completions endpoint answers with a
// non-2xx status.
type StatusError struct {
	Code     int
	Endpoint string
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: %s answered %d: %s", e.Endpoint, e.Code, e.Body)
}

// Client is the chat-completions backend for Respond and ExtractMemory.
// The bearer token is read from SSM once, on first use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	model      string

	getter    Getter
	tokenName string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

// WithBaseURL points the client at an OpenAI-compatible server. A base
// without a trailing /v1 gets one.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.endpoint = completionsEndpoint(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// NewClient reads the token from "<paramPrefix>/open-ai-token", stored as
// {"token": "..."}.
func NewClient(getter Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		endpoint:   completionsEndpoint(defaultBaseURL),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		model:      DefaultModel,
		getter:     getter,
		tokenName:  paramPrefix + "/open-ai-token",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func completionsEndpoint(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/chat/completions"
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = loadToken(ctx, c.getter, c.tokenName)
	})
	return c.token, c.tokenErr
}

func loadToken(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: read %s: %w", name, err)
	}
	var stored struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return "", fmt.Errorf("openai: %s is not a JSON token document: %w", name, err)
	}
	if strings.TrimSpace(stored.Token) == "" {
		return "", fmt.Errorf("openai: %s holds an empty token", name)
	}
	return stored.Token, nil
}

// complete sends messages to the configured model and returns the first
// choice. A nil temperature leaves the provider default.
func (c *Client) complete(ctx context.Context, messages []ChatMessage, temperature *float64) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return "", err
	}
	var out completionResponse
	err = c.post(ctx, token, completionRequest{Model: c.model, Messages: messages, Temperature: temperature}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai: send request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &StatusError{Code: res.StatusCode, Endpoint: c.endpoint, Body: string(snippet)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}
