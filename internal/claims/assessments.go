package claims

import (
	"time"

	"github.com/google/uuid"

	"truce/internal/models"
)

// PanelResultToAssessments maps each model's dual verdict onto a
// single ModelAssessment, taking the stronger argument side. Equal
// non-zero confidences read as mixed; a failed model reads as
// uncertain with confidence zero.
func PanelResultToAssessments(result *models.PanelResult) []*models.ModelAssessment {
	now := time.Now().UTC()
	assessments := make([]*models.ModelAssessment, 0, len(result.Verdicts))
	for _, v := range result.Verdicts {
		assessment := &models.ModelAssessment{
			ID:        uuid.New(),
			ModelName: v.Model,
			CreatedAt: now,
		}

		approval, refusal := v.Approval, v.Refusal
		switch {
		case v.Failed:
			assessment.Verdict = models.VerdictUncertain
			assessment.Rationale = approval.Argument
		case approval.Confidence > refusal.Confidence:
			assessment.Verdict = models.VerdictSupports
			assessment.Confidence = approval.Confidence
			assessment.Rationale = approval.Argument
			assessment.Citations = append([]uuid.UUID(nil), approval.EvidenceIDs...)
		case refusal.Confidence > approval.Confidence:
			assessment.Verdict = models.VerdictRefutes
			assessment.Confidence = refusal.Confidence
			assessment.Rationale = refusal.Argument
			assessment.Citations = append([]uuid.UUID(nil), refusal.EvidenceIDs...)
		case approval.Confidence > 0:
			assessment.Verdict = models.VerdictMixed
			assessment.Confidence = approval.Confidence
			assessment.Rationale = approval.Argument
			assessment.Citations = append([]uuid.UUID(nil), approval.EvidenceIDs...)
		default:
			assessment.Verdict = models.VerdictUncertain
			assessment.Rationale = approval.Argument
		}
		assessments = append(assessments, assessment)
	}
	return assessments
}
