package panel

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"truce/internal/config"
)

// Adapter is the minimal provider surface: identify yourself and turn
// a prompt into raw text. Everything downstream (parsing, validation,
// stub synthesis) is shared by the evaluator.
type Adapter interface {
	Provider() string
	Model() string
	ProviderID() string
	Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// systemPrompt is the contract sent with every provider call.
const systemPrompt = `You are one adjudicator on a panel evaluating a factual claim against the supplied evidence.

Respond with a single JSON object and nothing else. No markdown fences, no comments, no prose before or after. The object must contain exactly these fields:
{
  "provider_id": "<your provider id>",
  "approval_argument": {"argument": "<100-400 words>", "evidence_ids": ["<uuid>", ...], "confidence": <0.0-1.0>},
  "refusal_argument": {"argument": "<100-400 words>", "evidence_ids": ["<uuid>", ...], "confidence": <0.0-1.0>}
}

Rules:
- The approval argument makes the strongest honest case that the claim is true; the refusal argument the strongest honest case that it is false.
- Each argument must be 100-400 words.
- Do not give high confidence to both sides: if one confidence exceeds 0.7, the other must be below 0.3. If the evidence is genuinely ambiguous, set both near 0.5.
- Cite every piece of supplied evidence at least once across the two arguments, using its exact uuid in evidence_ids.
- Place inline citations as (uuid) immediately after the statements they support.`

// Fatal error patterns. An invocation or parse failure matching one
// of these fails the model's verdict instead of falling back to the
// stub payload.
var fatalPatterns = []string{
	"could not parse provider payload",
	"expecting value:",
	"unterminated string",
}

func isFatalError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Factory builds the adapter for each configured model. Provider is
// inferred from the model name; models with no configured credentials
// still get a real adapter, whose invocation error routes the
// evaluator onto the stub path.
type Factory struct {
	providers config.ProvidersConfig
	timeout   time.Duration
	maxTokens int
	logger    *zap.Logger
}

// NewFactory creates an adapter factory.
func NewFactory(providers config.ProvidersConfig, timeout time.Duration, maxTokens int, logger *zap.Logger) *Factory {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Factory{providers: providers, timeout: timeout, maxTokens: maxTokens, logger: logger}
}

// AdapterFor returns the adapter serving a model name.
func (f *Factory) AdapterFor(model string) Adapter {
	switch {
	case strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		return newChatAdapter("openai", model, f.providers.OpenAIAPIKey, f.providers.OpenAIBaseURL, f.timeout, f.maxTokens)
	case strings.HasPrefix(model, "grok"):
		return newChatAdapter("xai", model, f.providers.XAIAPIKey, f.providers.XAIBaseURL, f.timeout, f.maxTokens)
	case strings.HasPrefix(model, "gemini"):
		return newGeminiAdapter(model, f.providers.GeminiAPIKey, f.maxTokens, f.logger)
	case strings.HasPrefix(model, "claude"):
		return newAnthropicAdapter(model, f.providers.AnthropicAPIKey, f.timeout, f.maxTokens)
	default:
		return &StubAdapter{model: model}
	}
}
