package models

import (
	"time"

	"github.com/google/uuid"
)

// PanelVerdict is the discrete panel-level outcome.
type PanelVerdict string

const (
	PanelTrue    PanelVerdict = "TRUE"
	PanelFalse   PanelVerdict = "FALSE"
	PanelMixed   PanelVerdict = "MIXED"
	PanelUnknown PanelVerdict = "UNKNOWN"
)

// Argument length bounds after validation.
const (
	MinArgumentLen = 50
	MaxArgumentLen = 2000
)

// CitationLink maps a character range in an argument to the evidence
// it cites. Text holds the enclosing sentence.
type CitationLink struct {
	Start      int       `json:"start"`
	End        int       `json:"end"`
	EvidenceID uuid.UUID `json:"evidence_id"`
	Text       string    `json:"text"`
}

// ArgumentWithEvidence is one side of a model's dual verdict.
type ArgumentWithEvidence struct {
	Argument      string         `json:"argument"`
	EvidenceIDs   []uuid.UUID    `json:"evidence_ids"`
	CitationLinks []CitationLink `json:"citation_links"`
	Confidence    float64        `json:"confidence"`
}

// PanelModelVerdict is a single model's dual-sided verdict. When
// Failed is set, both arguments are placeholders with confidence 0.
type PanelModelVerdict struct {
	ProviderID string               `json:"provider_id"`
	Model      string               `json:"model"`
	Approval   ArgumentWithEvidence `json:"approval_argument"`
	Refusal    ArgumentWithEvidence `json:"refusal_argument"`
	Raw        string               `json:"raw,omitempty"`
	Failed     bool                 `json:"failed"`
	Error      string               `json:"error,omitempty"`
}

// PanelSummary is the aggregated outcome across models. Support and
// refute confidences are independent averages of normalized per-model
// contributions; they need not sum to 1.
type PanelSummary struct {
	SupportConfidence float64      `json:"support_confidence"`
	RefuteConfidence  float64      `json:"refute_confidence"`
	ModelCount        int          `json:"model_count"`
	Verdict           PanelVerdict `json:"verdict"`
}

// PanelResult is one full panel evaluation: the normalized prompt it
// was run against, per-model verdicts in model order, and the summary.
type PanelResult struct {
	ID          uuid.UUID            `json:"id"`
	Prompt      map[string]any       `json:"prompt"`
	Verdicts    []*PanelModelVerdict `json:"verdicts"`
	Summary     PanelSummary         `json:"summary"`
	GeneratedAt time.Time            `json:"generated_at"`
}
