package panel

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"truce/internal/models"
)

// PromptSchema tags the normalized panel prompt payload.
const PromptSchema = "truce.panel.v1"

// BuildPrompt produces the normalized prompt payload sent to every
// adapter. Evidence is sorted by published_at ascending with nulls
// last, ties broken by id, so identical claim states serialize
// identically.
func BuildPrompt(claim *models.Claim, window models.TimeWindow) map[string]any {
	evidence := sortEvidence(claim.Evidence)

	items := make([]map[string]any, 0, len(evidence))
	for _, ev := range evidence {
		item := map[string]any{
			"id":           ev.ID.String(),
			"publisher":    ev.Publisher,
			"snippet":      ev.Snippet,
			"url":          ev.URL,
			"published_at": nil,
		}
		if ev.PublishedAt != nil {
			item["published_at"] = ev.PublishedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	windowPayload := map[string]any{"start": nil, "end": nil}
	if window.Start != nil {
		windowPayload["start"] = window.Start.UTC().Format(time.RFC3339)
	}
	if window.End != nil {
		windowPayload["end"] = window.End.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"schema": PromptSchema,
		"claim": map[string]any{
			"id":       claim.ID.String(),
			"text":     claim.Text,
			"topic":    claim.Topic,
			"entities": claim.Entities,
		},
		"time_window":    windowPayload,
		"evidence":       items,
		"evidence_count": len(items),
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
	}
}

// EvidenceLookup maps evidence ID strings to their UUIDs, restricted
// to the claim's evidence. Adapters resolve cited IDs through it.
func EvidenceLookup(claim *models.Claim) map[string]uuid.UUID {
	lookup := make(map[string]uuid.UUID, len(claim.Evidence))
	for _, ev := range claim.Evidence {
		lookup[ev.ID.String()] = ev.ID
	}
	return lookup
}

func sortEvidence(evidence []*models.Evidence) []*models.Evidence {
	out := make([]*models.Evidence, len(evidence))
	copy(out, evidence)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PublishedAt, out[j].PublishedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID.String() < out[j].ID.String()
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return out[i].ID.String() < out[j].ID.String()
		default:
			return a.Before(*b)
		}
	})
	return out
}
