// Package llm provides a minimal chat-completions client for the
// contextual analysis stage. It speaks the OpenAI-compatible dialect
// served by OpenRouter, Groq, Ollama, and most self-hosted gateways.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/SafeInboxAI/warden/pkg/config"
	"github.com/SafeInboxAI/warden/pkg/httputil"
)

// DefaultTemperature keeps analysis output near-deterministic.
const DefaultTemperature = 0.1

// maxResponseSize bounds an LLM reply read (2MB).
const maxResponseSize = 2 * 1024 * 1024

// maxInFlight caps concurrent completion calls so a burst of escalated
// scans queues instead of tripping provider rate limits.
const maxInFlight = 8

// Client calls one OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	inflight   *httputil.Semaphore
}

// NewClient builds a client for the configured provider. Returns nil
// when the provider is none, which the caller treats as
// keyword-fallback mode.
func NewClient(cfg *config.Config) *Client {
	if cfg.ReasoningProvider == config.ProviderNone {
		return nil
	}

	baseURL := cfg.ReasoningBaseURL
	if baseURL == "" {
		switch cfg.ReasoningProvider {
		case config.ProviderOllama:
			baseURL = "http://localhost:11434/v1"
		case config.ProviderGroq:
			baseURL = "https://api.groq.com/openai/v1"
		default:
			baseURL = "https://openrouter.ai/api/v1"
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.ReasoningAPIKey,
		model:      cfg.ReasoningModel,
		httpClient: httputil.Client(httputil.TierSlow),
		inflight:   httputil.NewSemaphore(maxInFlight),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends a single-prompt completion request and returns the raw
// assistant text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.inflight.Acquire(ctx); err != nil {
		return "", fmt.Errorf("completion slot unavailable: %w", err)
	}
	defer c.inflight.Release()

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return "", fmt.Errorf("llm returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := httputil.ReadResponseBody(resp.Body, maxResponseSize)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }
