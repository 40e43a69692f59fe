package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationRecord is an immutable verification outcome. Cache
// entries are replaced wholesale, never mutated in place.
type VerificationRecord struct {
	ID          uuid.UUID   `json:"id"`
	ClaimSlug   string      `json:"claim_slug"`
	Verdict     VerdictType `json:"verdict"`
	Providers   []string    `json:"providers"`
	EvidenceIDs []uuid.UUID `json:"evidence_ids"`
	SourcesHash string      `json:"sources_hash"`
	Window      TimeWindow  `json:"time_window"`
	CreatedAt   time.Time   `json:"created_at"`
}

// VerificationResponse is the verify operation's reply.
type VerificationResponse struct {
	VerificationID uuid.UUID   `json:"verification_id"`
	Cached         bool        `json:"cached"`
	Verdict        VerdictType `json:"verdict"`
	CreatedAt      time.Time   `json:"created_at"`
	Providers      []string    `json:"providers"`
	EvidenceIDs    []uuid.UUID `json:"evidence_ids"`
	AssessmentIDs  []uuid.UUID `json:"assessment_ids"`
	Window         TimeWindow  `json:"time_window"`
}
