package panel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"truce/internal/config"
	"truce/internal/models"
)

// failedArgumentText is the placeholder carried by failed verdicts.
const failedArgumentText = "The model did not produce a usable verdict for this claim; no argument is available from this panel member."

// Evaluator runs the shared adapter pipeline: invoke, parse, validate,
// extract citations, classify failures.
type Evaluator struct {
	lexicon *config.Lexicon
	logger  *zap.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(lexicon *config.Lexicon, logger *zap.Logger) *Evaluator {
	return &Evaluator{lexicon: lexicon, logger: logger}
}

// Evaluate produces one model's verdict. It never returns an error:
// fatal conditions yield a failed verdict, non-fatal invocation
// failures yield the deterministic stub.
func (e *Evaluator) Evaluate(ctx context.Context, adapter Adapter, claim *models.Claim, prompt map[string]any, lookup map[string]uuid.UUID) *models.PanelModelVerdict {
	promptJSON, err := json.Marshal(prompt)
	if err != nil {
		return failedVerdict(adapter, fmt.Errorf("failed to serialize prompt: %w", err))
	}

	raw, err := adapter.Invoke(ctx, systemPrompt, string(promptJSON))
	if err != nil {
		if isFatalError(err) {
			e.logger.Warn("adapter invocation failed fatally",
				zap.String("provider_id", adapter.ProviderID()),
				zap.Error(err))
			return failedVerdict(adapter, err)
		}
		e.logger.Info("adapter unavailable, using stub payload",
			zap.String("provider_id", adapter.ProviderID()),
			zap.Error(err))
		return stubVerdict(adapter, claim, e.lexicon, err)
	}

	payload, err := ParseProviderPayload(raw)
	if err != nil {
		e.logger.Warn("provider payload unparseable",
			zap.String("provider_id", adapter.ProviderID()),
			zap.Int("raw_len", len(raw)))
		return failedVerdict(adapter, err)
	}

	return &models.PanelModelVerdict{
		ProviderID: adapter.ProviderID(),
		Model:      adapter.Model(),
		Approval:   validateArgument(payload.Approval, lookup),
		Refusal:    validateArgument(payload.Refusal, lookup),
		Raw:        raw,
	}
}

// failedVerdict records an unusable model with placeholder arguments
// at confidence zero, kept in the result for auditability.
func failedVerdict(adapter Adapter, cause error) *models.PanelModelVerdict {
	placeholder := models.ArgumentWithEvidence{
		Argument:   failedArgumentText,
		Confidence: 0,
	}
	return &models.PanelModelVerdict{
		ProviderID: adapter.ProviderID(),
		Model:      adapter.Model(),
		Approval:   placeholder,
		Refusal:    placeholder,
		Failed:     true,
		Error:      cause.Error(),
	}
}
