// Package llmclient implements domain.LLMClient against an
// OpenAI-compatible chat-completions endpoint: the single envelope the
// orchestrator needs, with no provider fan-out, embeddings, or streaming.
package llmclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// Client is an OpenAI-compatible chat-completions client.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// New constructs a Client. baseURL has no trailing slash requirement; a
// trailing "/chat/completions" is appended at call time.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// Chat implements domain.LLMClient. A response with no usage block is a
// terminal error: the caller's cost ledger accounting depends on it and the
// worker client is not permitted to paper over the gap with an estimate.
func (c *Client) Chat(ctx domain.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	tracer := otel.Tracer("llmclient")
	ctx, span := tracer.Start(ctx, "llmclient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("worker_tag", req.WorkerTag),
		attribute.String("user_tag", req.UserTag),
		attribute.String("model_tag", req.ModelTag),
		attribute.String("request_id", req.RequestID),
	)

	body := chatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("op=llmclient.chat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("op=llmclient.chat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Request-Id", req.RequestID)
	httpReq.Header.Set("X-Worker-Tag", req.WorkerTag)
	httpReq.Header.Set("X-User-Tag", req.UserTag)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: "openai", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: "openai", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 400 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return domain.ChatResponse{}, &domain.UpstreamError{
			Dependency: "openai",
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 500)),
		}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: "openai", StatusCode: resp.StatusCode, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("no choices in response")}
	}
	if parsed.Usage == nil {
		// A 2xx status makes the UpstreamError non-retryable.
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("missing usage block")}
	}

	return domain.ChatResponse{
		Content: parsed.Choices[0].Message.Content,
		Usage: domain.ChatUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Model: firstNonEmpty(parsed.Model, req.Model),
	}, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
