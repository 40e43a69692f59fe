package panel

import (
	"context"
	"fmt"
	"strings"

	"truce/internal/config"
	"truce/internal/models"
)

// StubAdapter never reaches a provider; its invocation error routes
// the evaluator onto the deterministic stub payload. Used for unknown
// model names and as the test double.
type StubAdapter struct {
	model string
}

func (s *StubAdapter) Provider() string   { return "stub" }
func (s *StubAdapter) Model() string      { return s.model }
func (s *StubAdapter) ProviderID() string { return "stub:" + s.model }

func (s *StubAdapter) Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", fmt.Errorf("stub adapter: no provider configured for %s", s.model)
}

// baseTendencies are the per-provider approval leans used when
// directional inference is inconclusive.
var baseTendencies = map[string]float64{
	"openai":    0.6,
	"xai":       0.5,
	"gemini":    0.5,
	"anthropic": 0.4,
	"stub":      0.5,
}

func baseTendency(provider string) float64 {
	if base, ok := baseTendencies[provider]; ok {
		return base
	}
	return 0.5
}

// stubApprovalConfidence derives the stub's approval lean from the
// claim and evidence directions. Agreement anchors approval at 0.8,
// disagreement at 0.2; a known claim direction alone anchors up-claims
// at 0.2 (they demand stronger evidence) and down-claims at 0.8.
func stubApprovalConfidence(provider string, claim *models.Claim, evidence []*models.Evidence, lexicon *config.Lexicon) float64 {
	base := baseTendency(provider)

	claimDir := lexicon.Direction(claim.Text)
	var snippets strings.Builder
	for _, ev := range evidence {
		snippets.WriteString(ev.Snippet)
		snippets.WriteString(" ")
	}
	evidenceDir := lexicon.Direction(snippets.String())

	anchor := base
	switch {
	case claimDir != "" && evidenceDir != "":
		if claimDir == evidenceDir {
			anchor = 0.8
		} else {
			anchor = 0.2
		}
	case claimDir == "up":
		anchor = 0.2
	case claimDir == "down":
		anchor = 0.8
	}

	return clamp(0.7*anchor+0.3*base, 0.05, 0.95)
}

// stubVerdict synthesizes the deterministic fallback verdict after a
// non-fatal invocation failure.
func stubVerdict(adapter Adapter, claim *models.Claim, lexicon *config.Lexicon, invokeErr error) *models.PanelModelVerdict {
	evidence := sortEvidence(claim.Evidence)
	approval := stubApprovalConfidence(adapter.Provider(), claim, evidence, lexicon)
	refusal := 1 - approval

	ids := make([]string, 0, 3)
	for _, ev := range evidence {
		if len(ids) == 3 {
			break
		}
		ids = append(ids, ev.ID.String())
	}

	approvalText := fmt.Sprintf(
		"Based on the %d available evidence sources, a case can be made that the claim holds: the cited reporting is consistent with the claim's central assertion and no source directly contradicts it.",
		len(evidence))
	refusalText := fmt.Sprintf(
		"Based on the %d available evidence sources, a case can be made against the claim: the sources leave room for alternative readings and do not conclusively establish the claim's central assertion.",
		len(evidence))

	lookup := EvidenceLookup(claim)
	verdict := &models.PanelModelVerdict{
		ProviderID: adapter.ProviderID(),
		Model:      adapter.Model(),
		Approval: validateArgument(argumentPayload{
			Argument:    approvalText,
			EvidenceIDs: ids,
			Confidence:  approval,
		}, lookup),
		Refusal: validateArgument(argumentPayload{
			Argument:    refusalText,
			EvidenceIDs: ids,
			Confidence:  refusal,
		}, lookup),
	}
	if invokeErr != nil {
		verdict.Error = invokeErr.Error()
	}
	return verdict
}
