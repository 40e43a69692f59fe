package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ChatAdapter speaks the OpenAI-compatible chat completions protocol.
// It serves both the OpenAI and xAI providers, which differ only in
// base URL and credentials.
type ChatAdapter struct {
	provider    string
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

func newChatAdapter(provider, model, apiKey, baseURL string, timeout time.Duration, maxTokens int) *ChatAdapter {
	return &ChatAdapter{
		provider:   provider,
		model:      model,
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *ChatAdapter) Provider() string   { return c.provider }
func (c *ChatAdapter) Model() string      { return c.model }
func (c *ChatAdapter) ProviderID() string { return c.provider + ":" + c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke issues one chat completion, retrying 429s with exponential
// backoff.
func (c *ChatAdapter) Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%s API key not configured", c.provider)
	}

	// Simple pacing between successive calls to the same provider.
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    0.1,
		ResponseFormat: &chatResponseFormat{Type: "json_object"},
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

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s request failed: %w", c.provider, err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%s rate limited (429)", c.provider)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%s API returned %d: %s", c.provider, resp.StatusCode, truncateForError(body))
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse %s response: %w", c.provider, err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("%s API error: %s", c.provider, parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("%s returned no choices", c.provider)
		}
		return parsed.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

func truncateForError(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
