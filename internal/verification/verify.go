package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"truce/internal/models"
	"truce/internal/progress"
	"truce/internal/search"
)

// SourceGatherer is the explorer operation the verify flow uses to
// refresh a claim's evidence.
type SourceGatherer interface {
	GatherSources(ctx context.Context, claimText string, window models.TimeWindow, sessionID string) ([]*search.RawSource, error)
}

// Service runs verifications against the deterministic cache, with
// optional write-through journaling to the archive.
type Service struct {
	cache    *Cache
	gatherer SourceGatherer
	archive  *Archive
	logger   *zap.Logger
}

// NewService creates a verification service. The archive may be nil.
func NewService(gatherer SourceGatherer, archive *Archive, logger *zap.Logger) *Service {
	return &Service{
		cache:    NewCache(),
		gatherer: gatherer,
		archive:  archive,
		logger:   logger,
	}
}

// Cache exposes the underlying cache, primarily for tests.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Verify adjudicates the claim against the cache: look up under the
// current evidence's key (unless forced), always re-gather, and
// produce a fresh record whenever the evidence set grew.
func (s *Service) Verify(ctx context.Context, slug string, claim *models.Claim, window models.TimeWindow, providers []string, force bool, sessionID string) (*models.VerificationResponse, error) {
	inRange := window.FilterEvidence(claim.Evidence)
	existingHash := ComputeSourcesHash(inRange)
	existingKey := BuildCacheKey(claim.Text, window, providers, existingHash)

	var cached *models.VerificationRecord
	if !force {
		if record, ok := s.cache.Get(existingKey); ok {
			cached = record
		}
	}

	// Always attempt a fresh gather; stale claims can pick up new
	// sources between verifications.
	newCount := 0
	sources, err := s.gatherer.GatherSources(ctx, claim.Text, window, sessionID)
	if err != nil {
		if errors.Is(err, progress.ErrCancelled) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.Warn("explorer failed during verification, continuing with existing evidence",
			zap.String("claim_id", claim.ID.String()),
			zap.Error(err))
	} else {
		evidence := make([]*models.Evidence, 0, len(sources))
		for _, src := range sources {
			evidence = append(evidence, src.ToEvidence("explorer"))
		}
		newCount = len(claim.AppendEvidence(evidence...))
	}

	cacheKey := existingKey
	sourcesHash := existingHash
	if newCount > 0 {
		// The enlarged evidence set keys to a necessarily-fresh entry.
		inRange = window.FilterEvidence(claim.Evidence)
		sourcesHash = ComputeSourcesHash(inRange)
		cacheKey = BuildCacheKey(claim.Text, window, providers, sourcesHash)
	} else if cached != nil {
		return response(cached, claim, true), nil
	}

	record := s.createRecord(slug, claim, inRange, providers, window, sourcesHash)
	s.cache.Put(cacheKey, record)
	if s.archive != nil {
		if err := s.archive.Record(record, cacheKey); err != nil {
			s.logger.Warn("failed to journal verification record", zap.Error(err))
		}
	}
	return response(record, claim, false), nil
}

func (s *Service) createRecord(slug string, claim *models.Claim, evidence []*models.Evidence, providers []string, window models.TimeWindow, sourcesHash string) *models.VerificationRecord {
	ids := make([]uuid.UUID, 0, len(evidence))
	for _, ev := range evidence {
		ids = append(ids, ev.ID)
	}
	if slug == "" {
		slug = claim.ID.String()
	}
	return &models.VerificationRecord{
		ID:          uuid.New(),
		ClaimSlug:   slug,
		Verdict:     DeriveVerdict(claim),
		Providers:   append([]string(nil), providers...),
		EvidenceIDs: ids,
		SourcesHash: sourcesHash,
		Window:      window,
		CreatedAt:   time.Now().UTC(),
	}
}

func response(record *models.VerificationRecord, claim *models.Claim, cached bool) *models.VerificationResponse {
	assessmentIDs := make([]uuid.UUID, 0, len(claim.ModelAssessments))
	for _, a := range claim.ModelAssessments {
		assessmentIDs = append(assessmentIDs, a.ID)
	}
	return &models.VerificationResponse{
		VerificationID: record.ID,
		Cached:         cached,
		Verdict:        record.Verdict,
		CreatedAt:      record.CreatedAt,
		Providers:      record.Providers,
		EvidenceIDs:    record.EvidenceIDs,
		AssessmentIDs:  assessmentIDs,
		Window:         record.Window,
	}
}

// DeriveVerdict reduces the claim's model assessments to a single
// verdict by majority.
func DeriveVerdict(claim *models.Claim) models.VerdictType {
	if len(claim.ModelAssessments) == 0 {
		return models.VerdictUncertain
	}
	var supports, refutes int
	for _, a := range claim.ModelAssessments {
		switch a.Verdict {
		case models.VerdictSupports:
			supports++
		case models.VerdictRefutes:
			refutes++
		}
	}
	switch {
	case supports > refutes:
		return models.VerdictSupports
	case refutes > supports:
		return models.VerdictRefutes
	case supports == refutes && supports > 0:
		return models.VerdictMixed
	default:
		return models.VerdictUncertain
	}
}
