package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VerdictType classifies a single model assessment.
type VerdictType string

const (
	VerdictSupports  VerdictType = "supports"
	VerdictRefutes   VerdictType = "refutes"
	VerdictMixed     VerdictType = "mixed"
	VerdictUncertain VerdictType = "uncertain"
)

// Claim text and topic length bounds.
const (
	MinClaimTextLen  = 10
	MaxClaimTextLen  = 500
	MinClaimTopicLen = 3
	MaxClaimTopicLen = 100
)

// MaxPanelResults is the number of panel results retained per claim.
const MaxPanelResults = 5

// ModelAssessment is a single model's verdict on a claim, derived
// from the stronger side of its panel arguments.
type ModelAssessment struct {
	ID         uuid.UUID   `json:"id"`
	ModelName  string      `json:"model_name"`
	Verdict    VerdictType `json:"verdict"`
	Confidence float64     `json:"confidence"`
	Citations  []uuid.UUID `json:"citations"`
	Rationale  string      `json:"rationale"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Claim is the root aggregate: it exclusively owns its evidence,
// assessments, and panel results. Mutation is append-only.
type Claim struct {
	ID               uuid.UUID          `json:"id"`
	Text             string             `json:"text"`
	Topic            string             `json:"topic"`
	Entities         []string           `json:"entities"`
	Evidence         []*Evidence        `json:"evidence"`
	ModelAssessments []*ModelAssessment `json:"model_assessments"`
	PanelResults     []*PanelResult     `json:"panel_results"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewClaim validates text/topic bounds and constructs a claim.
func NewClaim(text, topic string, entities []string) (*Claim, error) {
	if n := len(text); n < MinClaimTextLen || n > MaxClaimTextLen {
		return nil, fmt.Errorf("claim text must be %d-%d characters, got %d", MinClaimTextLen, MaxClaimTextLen, n)
	}
	if n := len(topic); n < MinClaimTopicLen || n > MaxClaimTopicLen {
		return nil, fmt.Errorf("claim topic must be %d-%d characters, got %d", MinClaimTopicLen, MaxClaimTopicLen, n)
	}
	now := time.Now().UTC()
	return &Claim{
		ID:        uuid.New(),
		Text:      text,
		Topic:     topic,
		Entities:  append([]string(nil), entities...),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AppendEvidence adds evidence items, skipping any whose normalized
// URL or content hash is already present. Returns the items actually
// appended.
func (c *Claim) AppendEvidence(items ...*Evidence) []*Evidence {
	seenURLs := make(map[string]bool, len(c.Evidence))
	seenHashes := make(map[string]bool, len(c.Evidence))
	for _, ev := range c.Evidence {
		if ev.NormalizedURL != "" {
			seenURLs[ev.NormalizedURL] = true
		}
		if ev.ContentHash != "" {
			seenHashes[ev.ContentHash] = true
		}
	}

	var added []*Evidence
	for _, ev := range items {
		ev.Finalize()
		if ev.NormalizedURL != "" && seenURLs[ev.NormalizedURL] {
			continue
		}
		if ev.ContentHash != "" && seenHashes[ev.ContentHash] {
			continue
		}
		if ev.NormalizedURL != "" {
			seenURLs[ev.NormalizedURL] = true
		}
		if ev.ContentHash != "" {
			seenHashes[ev.ContentHash] = true
		}
		c.Evidence = append(c.Evidence, ev)
		added = append(added, ev)
	}
	if len(added) > 0 {
		c.UpdatedAt = time.Now().UTC()
	}
	return added
}

// AppendPanelResult appends a panel result, trimming history to the
// most recent MaxPanelResults.
func (c *Claim) AppendPanelResult(result *PanelResult) {
	c.PanelResults = append(c.PanelResults, result)
	if len(c.PanelResults) > MaxPanelResults {
		c.PanelResults = c.PanelResults[len(c.PanelResults)-MaxPanelResults:]
	}
	c.UpdatedAt = time.Now().UTC()
}

// LatestPanelResult returns the most recent panel result, or nil.
func (c *Claim) LatestPanelResult() *PanelResult {
	if len(c.PanelResults) == 0 {
		return nil
	}
	return c.PanelResults[len(c.PanelResults)-1]
}

// EvidenceByID returns the claim's evidence keyed by ID.
func (c *Claim) EvidenceByID() map[uuid.UUID]*Evidence {
	lookup := make(map[uuid.UUID]*Evidence, len(c.Evidence))
	for _, ev := range c.Evidence {
		lookup[ev.ID] = ev
	}
	return lookup
}
