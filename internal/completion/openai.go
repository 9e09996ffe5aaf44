package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/chatmemory/internal/reliability"
	"github.com/ent0n29/chatmemory/internal/window"
)

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	// http.Transport understands http, https and socks5 proxy URLs.
	if raw := strings.TrimSpace(cfg.ProxyURL); raw != "" {
		proxy, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxy)
		httpClient.Transport = transport
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		oc.BaseURL = strings.TrimRight(base, "/")
	}
	oc.HTTPClient = httpClient

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: float32(cfg.Temperature),
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []window.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", unavailable(err)
	}
	if len(resp.Choices) == 0 {
		return "", unavailable(errors.New("response has no choices"))
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", unavailable(errors.New("response is empty"))
	}
	return text, nil
}

// StatusCode extracts the HTTP status of a failed call, or 0 when the call
// never got a response.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Retryable reports whether a later attempt with the same window may succeed.
// The caller decides; completers never retry on their own.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if reliability.IsTransient(err) {
		return true
	}
	code := StatusCode(err)
	if code == 0 {
		return !errors.Is(err, context.Canceled)
	}
	return reliability.IsRetryableHTTPStatus(code)
}

// Classify labels a completion failure for metrics and logs.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	switch code := StatusCode(err); {
	case code == 429:
		return "rate_limited"
	case reliability.IsRetryableHTTPStatus(code):
		return "server_error"
	case code >= 400 && code < 500:
		return "client_error"
	case code == 0:
		return "transport"
	default:
		return "error"
	}
}
