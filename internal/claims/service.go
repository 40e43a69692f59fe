package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"truce/internal/config"
	"truce/internal/models"
	"truce/internal/panel"
	"truce/internal/progress"
)

// PanelRunner runs one panel evaluation against a claim.
type PanelRunner interface {
	RunPanelEvaluation(ctx context.Context, claim *models.Claim, opts panel.RunOptions) (*models.PanelResult, error)
}

// Service couples the registry with the panel pipeline: claim
// creation, the auto-claim flow, and post-panel bookkeeping.
type Service struct {
	registry    *Registry
	runner      PanelRunner
	bus         *progress.Bus
	lexicon     *config.Lexicon
	models      []string
	evalTimeout time.Duration
	logger      *zap.Logger
}

// NewService creates a claims service. models is the default panel
// lineup for auto-created claims.
func NewService(registry *Registry, runner PanelRunner, bus *progress.Bus, lexicon *config.Lexicon, panelModels []string, evalTimeout time.Duration, logger *zap.Logger) *Service {
	if evalTimeout <= 0 {
		evalTimeout = 180 * time.Second
	}
	return &Service{
		registry:    registry,
		runner:      runner,
		bus:         bus,
		lexicon:     lexicon,
		models:      panelModels,
		evalTimeout: evalTimeout,
		logger:      logger,
	}
}

// Registry exposes the underlying registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// CreateClaim validates and registers a claim.
func (s *Service) CreateClaim(text, topic string, entities []string) (string, *models.Claim, error) {
	claim, err := models.NewClaim(text, topic, entities)
	if err != nil {
		return "", nil, err
	}
	slug := s.registry.Add(claim)
	s.logger.Info("claim created",
		zap.String("slug", slug),
		zap.String("topic", topic))
	return slug, claim, nil
}

// CreateFromQuery turns a free-text query into a registered claim and
// runs the full agentic panel under the evaluation budget. The claim
// is kept with whatever evidence was assembled even when evaluation
// times out or fails; only cancellation unwinds the flow.
func (s *Service) CreateFromQuery(ctx context.Context, query, sessionID string) (string, error) {
	if err := s.bus.CheckCancelled(sessionID); err != nil {
		return "", err
	}
	s.bus.Emit(sessionID, "initializing", "Setting up claim analysis...", nil)

	claim, err := models.NewClaim(query, "auto-generated", nil)
	if err != nil {
		s.bus.Emit(sessionID, progress.StageError, fmt.Sprintf("Failed to create claim: %v", err), nil)
		return "", err
	}
	slug := s.registry.Add(claim)

	if err := s.bus.CheckCancelled(sessionID); err != nil {
		return "", err
	}
	s.bus.Emit(sessionID, "searching", "Searching for evidence sources...", nil)

	if err := s.bus.CheckCancelled(sessionID); err != nil {
		return "", err
	}
	s.bus.Emit(sessionID, "evaluating", "Starting agentic research and AI evaluation...", nil)

	evalCtx, cancel := context.WithTimeout(ctx, s.evalTimeout)
	defer cancel()

	result, err := s.runner.RunPanelEvaluation(evalCtx, claim, panel.RunOptions{
		Models:    s.models,
		SessionID: sessionID,
		Agentic:   true,
	})
	switch {
	case err == nil:
		result = s.reconcileWithPeers(claim, result)
		claim.ModelAssessments = PanelResultToAssessments(result)
		claim.UpdatedAt = time.Now().UTC()
		s.bus.Emit(sessionID, "evaluation_complete",
			fmt.Sprintf("Analysis complete: %d AI models evaluated the claim", len(result.Verdicts)),
			map[string]any{"model_count": len(result.Verdicts), "slug": slug})
	case errors.Is(err, progress.ErrCancelled) || errors.Is(err, context.Canceled):
		return "", err
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("panel evaluation timed out", zap.String("slug", slug))
		s.bus.Emit(sessionID, "evaluation_timeout",
			"AI evaluation taking longer than expected, claim saved with evidence only", nil)
	default:
		s.logger.Warn("panel evaluation failed",
			zap.String("slug", slug),
			zap.Error(err))
		s.bus.Emit(sessionID, "evaluation_error",
			"AI evaluation failed, but claim created successfully with evidence", nil)
	}

	s.bus.Emit(sessionID, progress.StageComplete, "Claim analysis complete! Redirecting...",
		map[string]any{"slug": slug})
	return slug, nil
}

// EvaluatePanel runs a panel for an already-registered claim and
// applies post-panel bookkeeping (peer reconciliation, assessments).
func (s *Service) EvaluatePanel(ctx context.Context, claim *models.Claim, opts panel.RunOptions) (*models.PanelResult, error) {
	if len(opts.Models) == 0 {
		opts.Models = s.models
	}
	result, err := s.runner.RunPanelEvaluation(ctx, claim, opts)
	if err != nil {
		return nil, err
	}
	result = s.reconcileWithPeers(claim, result)
	claim.ModelAssessments = PanelResultToAssessments(result)
	claim.UpdatedAt = time.Now().UTC()
	return result, nil
}

// reconcileWithPeers checks topic peers for a complementary claim and
// reconciles both summaries; assessments of a changed peer are
// regenerated. Only the first complementary peer is reconciled.
func (s *Service) reconcileWithPeers(claim *models.Claim, result *models.PanelResult) *models.PanelResult {
	for _, peer := range s.registry.TopicPeers(claim) {
		peerResult := peer.LatestPanelResult()
		if peerResult == nil {
			continue
		}
		if !panel.Reconcile(claim.Text, &result.Summary, peer.Text, &peerResult.Summary, s.lexicon) {
			continue
		}
		s.logger.Info("reconciled complementary claims",
			zap.String("claim_id", claim.ID.String()),
			zap.String("peer_id", peer.ID.String()))
		peer.ModelAssessments = PanelResultToAssessments(peerResult)
		peer.UpdatedAt = time.Now().UTC()
		break
	}
	return result
}
