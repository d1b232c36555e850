// Package openrouter is a minimal chat-completions client for the OpenRouter
// API, tolerant of models that wrap JSON answers in markdown code fences.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/yungbote/kg-sidecar/internal/platform/envutil"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
)

// Client is the slot-facing surface. The HTTP implementation is the only
// production one; tests substitute canned payloads.
type Client interface {
	// GenerateJSON asks for a JSON-only answer and decodes it into out.
	GenerateJSON(ctx context.Context, req Request, out any) error
	// GenerateReply asks for a plain-text answer.
	GenerateReply(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Model        string
	SystemPrompt string
	UserMessage  string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

type HTTPClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewFromEnv builds a client from OPENROUTER_API_KEY / OPENROUTER_BASE_URL.
// Returns nil when no key is configured; slots treat a nil client as "no LLM
// runtime" and either hard-fail or degrade per their own strictness.
func NewFromEnv(log *logger.Logger) *HTTPClient {
	apiKey := envutil.Str("OPENROUTER_API_KEY", "")
	if apiKey == "" {
		return nil
	}
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(envutil.Str("OPENROUTER_BASE_URL", "https://openrouter.ai"), "/"),
		http:    &http.Client{},
		log:     log.With("client", "OpenRouter"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) call(ctx context.Context, req Request, jsonOnly bool) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = "openrouter/auto"
	}
	system := req.SystemPrompt
	if jsonOnly {
		system += "\nRespond with JSON only, no surrounding text."
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 400
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.UserMessage},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openrouter: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("openrouter: request timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("openrouter: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("openrouter: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openrouter: request failed: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openrouter: empty content")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (c *HTTPClient) GenerateReply(ctx context.Context, req Request) (string, error) {
	return c.call(ctx, req, false)
}

func (c *HTTPClient) GenerateJSON(ctx context.Context, req Request, out any) error {
	content, err := c.call(ctx, req, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripCodeFence(content)), out); err != nil {
		return fmt.Errorf("openrouter: json parse failed: %w", err)
	}
	return nil
}

var fenceOpen = regexp.MustCompile("(?i)^```(?:json)?\\s*")

// StripCodeFence removes a leading/trailing markdown fence around a JSON
// payload.
func StripCodeFence(text string) string {
	raw := strings.TrimSpace(text)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = fenceOpen.ReplaceAllString(raw, "")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

// IsTimeout reports whether err came from an exceeded per-call deadline.
func IsTimeout(err error) bool {
	return err != nil && errors.Is(err, context.DeadlineExceeded)
}
