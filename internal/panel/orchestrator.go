package panel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"truce/internal/models"
	"truce/internal/progress"
	"truce/internal/research"
)

// Orchestrator drives a full panel evaluation: parallel research,
// prompt construction, sequential adapter evaluation, evidence
// merge-back, aggregation.
type Orchestrator struct {
	factory     *Factory
	evaluator   *Evaluator
	searcher    research.Searcher
	researchCfg research.Config
	bus         *progress.Bus
	logger      *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(factory *Factory, evaluator *Evaluator, searcher research.Searcher, researchCfg research.Config, bus *progress.Bus, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		factory:     factory,
		evaluator:   evaluator,
		searcher:    searcher,
		researchCfg: researchCfg,
		bus:         bus,
		logger:      logger,
	}
}

// RunOptions parameterize one panel run.
type RunOptions struct {
	Models    []string
	Window    models.TimeWindow
	SessionID string
	Agentic   bool
}

// RunPanelEvaluation evaluates the claim and appends the result (and
// any researched evidence) to it. A single model's failure never
// aborts the run; only cancellation or missing evidence does.
func (o *Orchestrator) RunPanelEvaluation(ctx context.Context, claim *models.Claim, opts RunOptions) (*models.PanelResult, error) {
	if len(opts.Models) == 0 {
		return nil, fmt.Errorf("no models configured for panel run")
	}

	enriched := claim
	var pool *research.SharedEvidencePool

	if opts.Agentic {
		var err error
		pool, err = o.researchPhase(ctx, claim, opts)
		if err != nil {
			return nil, err
		}
		enriched = &models.Claim{
			ID:       claim.ID,
			Text:     claim.Text,
			Topic:    claim.Topic,
			Entities: claim.Entities,
			Evidence: pool.Evidence(),
		}
	} else if len(claim.Evidence) == 0 {
		return nil, fmt.Errorf("non-agentic panel run requires existing evidence")
	}

	prompt := BuildPrompt(enriched, opts.Window)
	lookup := EvidenceLookup(enriched)

	// Adapters run sequentially, in model order.
	verdicts := make([]*models.PanelModelVerdict, 0, len(opts.Models))
	for _, model := range opts.Models {
		if err := o.bus.CheckCancelled(opts.SessionID); err != nil {
			return nil, err
		}
		adapter := o.factory.AdapterFor(model)
		o.bus.Emit(opts.SessionID, "evaluating", fmt.Sprintf("evaluating with %s", adapter.ProviderID()), map[string]any{
			"provider_id": adapter.ProviderID(),
		})

		verdict := o.evaluator.Evaluate(ctx, adapter, enriched, prompt, lookup)
		verdicts = append(verdicts, verdict)
		o.bus.Emit(opts.SessionID, "model_complete", fmt.Sprintf("%s verdict recorded", adapter.ProviderID()), map[string]any{
			"provider_id": adapter.ProviderID(),
			"failed":      verdict.Failed,
		})
	}

	if pool != nil {
		if err := o.bus.CheckCancelled(opts.SessionID); err != nil {
			return nil, err
		}
		added := claim.AppendEvidence(pool.Evidence()...)
		o.logger.Debug("merged researched evidence into claim",
			zap.String("claim_id", claim.ID.String()),
			zap.Int("added", len(added)))
	}

	result := &models.PanelResult{
		ID:          uuid.New(),
		Prompt:      prompt,
		Verdicts:    verdicts,
		Summary:     AggregatePanel(verdicts),
		GeneratedAt: time.Now().UTC(),
	}
	claim.AppendPanelResult(result)
	return result, nil
}

// researchPhase fans one researcher per model out over a
// direction-neutralized copy of the claim and pools their evidence.
// The pool is seeded with the claim's existing evidence so the prompt
// always covers it.
func (o *Orchestrator) researchPhase(ctx context.Context, claim *models.Claim, opts RunOptions) (*research.SharedEvidencePool, error) {
	pool := research.NewSharedEvidencePool()
	pool.AddEvidence(claim.Evidence, "claim")

	neutral := &models.Claim{
		ID:       claim.ID,
		Text:     NeutralizeClaim(claim.Text),
		Topic:    claim.Topic,
		Entities: claim.Entities,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, model := range opts.Models {
		model := model
		g.Go(func() error {
			r := research.NewResearcher(model, o.researchCfg, o.searcher, o.bus, o.logger)
			evidence, err := r.ConductResearch(gctx, neutral, opts.Window, opts.SessionID)
			if err != nil {
				return err
			}
			accepted := pool.AddEvidence(evidence, model)
			o.logger.Debug("researcher finished",
				zap.String("agent", model),
				zap.Int("yielded", len(evidence)),
				zap.Int("accepted", accepted))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	o.bus.Emit(opts.SessionID, "research_complete", fmt.Sprintf("pooled %d evidence sources", pool.Size()), map[string]any{
		"pool_size":     pool.Size(),
		"contributions": pool.Contributions(),
	})
	return pool, nil
}
