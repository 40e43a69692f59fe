package panel

import (
	"math"
	"regexp"
	"strings"

	"truce/internal/config"
	"truce/internal/models"
)

// AggregatePanel fuses per-model verdicts into the panel summary.
// Failed verdicts are excluded; each remaining approval/refusal pair
// is normalized to sum to 1 before averaging.
func AggregatePanel(verdicts []*models.PanelModelVerdict) models.PanelSummary {
	var supportSum, refuteSum float64
	count := 0
	for _, v := range verdicts {
		if v.Failed {
			continue
		}
		a, r := v.Approval.Confidence, v.Refusal.Confidence
		if a+r == 0 {
			a, r = 0.5, 0.5
		} else {
			total := a + r
			a, r = a/total, r/total
		}
		supportSum += a
		refuteSum += r
		count++
	}

	if count == 0 {
		return models.PanelSummary{Verdict: models.PanelUnknown}
	}

	support := round4(supportSum / float64(count))
	refute := round4(refuteSum / float64(count))
	return models.PanelSummary{
		SupportConfidence: support,
		RefuteConfidence:  refute,
		ModelCount:        count,
		Verdict:           deriveVerdict(support, refute),
	}
}

func deriveVerdict(support, refute float64) models.PanelVerdict {
	if support == refute {
		return models.PanelMixed
	}
	delta := math.Abs(support - refute)
	switch {
	case delta >= 0.30 && support > refute:
		return models.PanelTrue
	case delta >= 0.30:
		return models.PanelFalse
	case delta >= 0.10:
		return models.PanelMixed
	default:
		return models.PanelUnknown
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Direction-neutralization patterns: verb phrases asserting movement,
// then bare directional adjectives.
var directionalPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(is|are|was|were|has been|have been)\s+(rising|increasing|climbing|growing|surging|up)\b`),
	regexp.MustCompile(`(?i)\b(is|are|was|were|has been|have been)\s+(declining|falling|decreasing|dropping|shrinking|down)\b`),
	regexp.MustCompile(`(?i)\b(rising|increasing|surging|growing|declining|falling|decreasing|dropping)\b`),
}

var spaceRuns = regexp.MustCompile(`\s+`)

// NeutralizeClaim strips directional modifiers so that complementary
// claims research against the same evidence pool. The original text
// is kept when stripping would remove too much of it.
func NeutralizeClaim(text string) string {
	out := text
	for _, re := range directionalPhrases {
		out = re.ReplaceAllString(out, "")
	}
	out = strings.TrimSpace(spaceRuns.ReplaceAllString(out, " "))
	out = strings.TrimRight(out, " .,")

	floor := len(text) / 2
	if floor < 10 {
		floor = 10
	}
	if len(out) < floor {
		return text
	}
	return out
}

// Complementary reports whether two claims are complementary: enough
// neutralized-token overlap and differing inferred directions.
func Complementary(textA, textB string, lexicon *config.Lexicon) bool {
	dirA, dirB := lexicon.Direction(textA), lexicon.Direction(textB)
	if dirA == "" || dirB == "" || dirA == dirB {
		return false
	}

	tokensA := tokenSet(NeutralizeClaim(textA))
	tokensB := tokenSet(NeutralizeClaim(textB))
	overlap := 0
	for tok := range tokensA {
		if tokensB[tok] {
			overlap++
		}
	}
	minLen := len(tokensA)
	if len(tokensB) < minLen {
		minLen = len(tokensB)
	}
	threshold := math.Max(2, 0.6*float64(minLen))
	return float64(overlap) >= threshold
}

// Reconcile inverts the weaker of two complementary claims' summaries
// when both currently carry support above 0.6. Returns whether an
// inversion was applied.
func Reconcile(textA string, a *models.PanelSummary, textB string, b *models.PanelSummary, lexicon *config.Lexicon) bool {
	if a == nil || b == nil {
		return false
	}
	if a.SupportConfidence <= 0.6 || b.SupportConfidence <= 0.6 {
		return false
	}
	if !Complementary(textA, textB, lexicon) {
		return false
	}

	weaker := a
	if b.SupportConfidence < a.SupportConfidence {
		weaker = b
	}
	weaker.SupportConfidence, weaker.RefuteConfidence = weaker.RefuteConfidence, weaker.SupportConfidence
	switch weaker.Verdict {
	case models.PanelTrue:
		weaker.Verdict = models.PanelFalse
	case models.PanelFalse:
		weaker.Verdict = models.PanelTrue
	}
	return true
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}
