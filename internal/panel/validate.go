package panel

import (
	"strings"

	"github.com/google/uuid"

	"truce/internal/models"
)

// fillerSentence pads under-length arguments deterministically.
const fillerSentence = " Additional context from the cited evidence informs this assessment."

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// smartTruncate shortens text to at most limit characters, preferring
// a sentence boundary in the final 30%, then a word boundary, then a
// hard cut with an ellipsis.
func smartTruncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	window := text[:limit]
	floor := int(0.7 * float64(limit))

	if idx := strings.LastIndexAny(window, ".!?"); idx >= floor {
		return strings.TrimSpace(window[:idx+1])
	}
	if idx := strings.LastIndex(window[:limit-3], " "); idx >= floor {
		return strings.TrimSpace(window[:idx]) + "..."
	}
	return window[:limit-3] + "..."
}

// padArgument extends an under-length argument with the filler until
// it reaches the minimum.
func padArgument(text string, minLen int) string {
	out := strings.TrimSpace(text)
	for len(out) < minLen {
		out += fillerSentence
	}
	return out
}

// validateArgument applies the full validation pipeline to one parsed
// argument side: clamp confidence, bound the text, resolve evidence
// ID strings against the prompt's evidence, extract citations.
func validateArgument(arg argumentPayload, lookup map[string]uuid.UUID) models.ArgumentWithEvidence {
	text := smartTruncate(arg.Argument, models.MaxArgumentLen)
	text = padArgument(text, models.MinArgumentLen)

	// Unknown IDs are dropped; duplicates removed preserving order.
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, raw := range arg.EvidenceIDs {
		id, ok := lookup[strings.TrimSpace(raw)]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	links, display := ExtractCitations(text, lookup)
	return models.ArgumentWithEvidence{
		Argument:      display,
		EvidenceIDs:   ids,
		CitationLinks: links,
		Confidence:    clamp(arg.Confidence, 0, 1),
	}
}
