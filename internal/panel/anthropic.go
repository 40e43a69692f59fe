package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

// AnthropicAdapter speaks the Anthropic messages protocol.
type AnthropicAdapter struct {
	model      string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
}

func newAnthropicAdapter(model, apiKey string, timeout time.Duration, maxTokens int) *AnthropicAdapter {
	return &AnthropicAdapter{
		model:      model,
		apiKey:     apiKey,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (a *AnthropicAdapter) Provider() string   { return "anthropic" }
func (a *AnthropicAdapter) Model() string      { return a.model }
func (a *AnthropicAdapter) ProviderID() string { return "anthropic:" + a.model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke issues one messages call, retrying 429s with backoff.
func (a *AnthropicAdapter) Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("anthropic API key not configured")
	}

	reqBody := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: userPrompt}},
		Temperature: 0.1,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	maxRetries := 3
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("anthropic request failed: %w", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("anthropic rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("anthropic API returned %d: %s", resp.StatusCode, truncateForError(body))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse anthropic response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("anthropic API error: %s", parsed.Error.Message)
		}
		for _, block := range parsed.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", fmt.Errorf("anthropic returned no text content")
	}
	return "", lastErr
}
