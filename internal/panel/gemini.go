package panel

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiAdapter runs Gemini models through the official genai SDK.
type GeminiAdapter struct {
	model     string
	maxTokens int
	client    *genai.Client
}

func newGeminiAdapter(model, apiKey string, maxTokens int, logger *zap.Logger) *GeminiAdapter {
	a := &GeminiAdapter{model: model, maxTokens: maxTokens}
	if apiKey == "" {
		return a
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		logger.Warn("failed to create genai client", zap.Error(err))
		return a
	}
	a.client = client
	return a
}

func (g *GeminiAdapter) Provider() string   { return "gemini" }
func (g *GeminiAdapter) Model() string      { return g.model }
func (g *GeminiAdapter) ProviderID() string { return "gemini:" + g.model }

// Invoke issues one generateContent call requesting a JSON response.
func (g *GeminiAdapter) Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("gemini API key not configured")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0.1),
		MaxOutputTokens:   int32(g.maxTokens),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text content")
	}
	return text, nil
}
