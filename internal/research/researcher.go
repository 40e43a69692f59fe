package research

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"truce/internal/models"
	"truce/internal/progress"
	"truce/internal/search"
)

// Searcher is the search operation researchers depend on.
type Searcher interface {
	SearchWeb(ctx context.Context, query string, window models.TimeWindow, strategy, sessionID string) []*search.RawSource
}

// Turn names in execution order.
const (
	turnBroadSearch    = "broad_search"
	turnPerspective    = "perspective_search"
	turnTargetedSource = "targeted_source_search"
	turnGapSearch      = "gap_search"
)

// perspectives are the angle prefixes issued on turn 1.
var perspectives = []string{
	"research study evidence",
	"government official data",
	"fact check verification",
	"expert academic analysis",
}

// Gap identifiers planned between turns and consumed by gap_search.
const (
	gapGovernmentSources       = "government_sources"
	gapAlternativePerspectives = "alternative_perspectives"
)

// Config bounds a research session.
type Config struct {
	MaxTurns          int
	SufficientSources int
	SufficientDomains int
	ResultsPerQuery   int
	TargetSites       []string
}

// DefaultConfig returns the standard research bounds.
func DefaultConfig() Config {
	return Config{
		MaxTurns:          5,
		SufficientSources: 8,
		SufficientDomains: 4,
		ResultsPerQuery:   5,
		TargetSites:       []string{"statcan.gc.ca", "canada.ca", "cbc.ca", "reuters.com"},
	}
}

// analysis is the between-turn evidence assessment that drives early
// termination and gap planning.
type analysis struct {
	totalSources  int
	uniqueDomains int
	hasGovernment bool
	sufficient    bool
	nextActions   []string
}

// Researcher runs one model's multi-turn evidence hunt. One instance
// per panel model per session.
type Researcher struct {
	agentName string
	cfg       Config
	searcher  Searcher
	bus       *progress.Bus
	logger    *zap.Logger
}

// NewResearcher creates a researcher acting for the named agent.
func NewResearcher(agentName string, cfg Config, searcher Searcher, bus *progress.Bus, logger *zap.Logger) *Researcher {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	if cfg.SufficientSources <= 0 {
		cfg.SufficientSources = 8
	}
	if cfg.SufficientDomains <= 0 {
		cfg.SufficientDomains = 4
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = 5
	}
	if len(cfg.TargetSites) == 0 {
		cfg.TargetSites = DefaultConfig().TargetSites
	}
	return &Researcher{
		agentName: agentName,
		cfg:       cfg,
		searcher:  searcher,
		bus:       bus,
		logger:    logger.With(zap.String("agent", agentName)),
	}
}

// Provenance returns the provenance tag stamped on this researcher's
// evidence.
func (r *Researcher) Provenance() string {
	return r.agentName + "_research"
}

// ConductResearch runs the turn state machine and returns candidate
// evidence. A failed turn logs and moves on; only cancellation aborts
// the session.
func (r *Researcher) ConductResearch(ctx context.Context, claim *models.Claim, window models.TimeWindow, sessionID string) ([]*models.Evidence, error) {
	collected := make([]*search.RawSource, 0, r.cfg.SufficientSources)
	seen := make(map[string]bool)
	plan := analysis{}

	for turn := 0; turn < r.cfg.MaxTurns; turn++ {
		if err := r.bus.CheckCancelled(sessionID); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, queries := r.turnQueries(turn, claim.Text, plan)
		r.bus.Emit(sessionID, "researching", fmt.Sprintf("%s: %s (turn %d)", r.agentName, name, turn), map[string]any{
			"agent": r.agentName,
			"turn":  turn,
		})

		turnSources := 0
		for _, query := range queries {
			results := r.searcher.SearchWeb(ctx, query, window, search.StrategyDirect, sessionID)
			if len(results) > r.cfg.ResultsPerQuery {
				results = results[:r.cfg.ResultsPerQuery]
			}
			for _, s := range results {
				key := models.NormalizeURL(s.URL)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				s.NormalizedURL = key
				collected = append(collected, s)
				turnSources++
			}
		}
		if turnSources == 0 {
			r.logger.Debug("research turn produced no new sources",
				zap.String("turn_name", name),
				zap.Int("turn", turn))
		}

		plan = r.analyze(collected)
		r.logger.Debug("research turn complete",
			zap.String("turn_name", name),
			zap.Int("turn", turn),
			zap.Int("total_sources", plan.totalSources),
			zap.Int("unique_domains", plan.uniqueDomains),
			zap.Bool("sufficient", plan.sufficient))
		if plan.sufficient {
			break
		}
	}

	evidence := make([]*models.Evidence, 0, len(collected))
	for _, s := range collected {
		evidence = append(evidence, s.ToEvidence(r.Provenance()))
	}
	return evidence, nil
}

// turnQueries returns the named turn's queries.
func (r *Researcher) turnQueries(turn int, claimText string, plan analysis) (string, []string) {
	switch turn {
	case 0:
		return turnBroadSearch, []string{claimText}
	case 1:
		queries := make([]string, 0, len(perspectives))
		for _, p := range perspectives {
			queries = append(queries, p+" "+claimText)
		}
		return turnPerspective, queries
	case 2:
		queries := make([]string, 0, len(r.cfg.TargetSites))
		for _, site := range r.cfg.TargetSites {
			queries = append(queries, fmt.Sprintf("site:%s %s", site, claimText))
		}
		return turnTargetedSource, queries
	default:
		return turnGapSearch, []string{r.gapQuery(claimText, plan)}
	}
}

func (r *Researcher) gapQuery(claimText string, plan analysis) string {
	for _, action := range plan.nextActions {
		switch action {
		case gapGovernmentSources:
			return "government statistics data " + claimText
		case gapAlternativePerspectives:
			return "counterargument opposing view " + claimText
		}
	}
	return "detailed analysis verification " + claimText
}

// analyze assesses the collected evidence and plans the next gaps.
func (r *Researcher) analyze(collected []*search.RawSource) analysis {
	domains := make(map[string]bool)
	hasGov := false
	for _, s := range collected {
		domain := s.Domain
		if domain == "" {
			domain = models.ExtractDomain(s.URL)
		}
		if domain != "" {
			domains[domain] = true
		}
		if isGovernmentDomain(domain) {
			hasGov = true
		}
	}

	a := analysis{
		totalSources:  len(collected),
		uniqueDomains: len(domains),
		hasGovernment: hasGov,
	}
	a.sufficient = a.totalSources >= r.cfg.SufficientSources && a.uniqueDomains >= r.cfg.SufficientDomains
	if !a.hasGovernment {
		a.nextActions = append(a.nextActions, gapGovernmentSources)
	}
	if a.uniqueDomains < r.cfg.SufficientDomains {
		a.nextActions = append(a.nextActions, gapAlternativePerspectives)
	}
	return a
}

func isGovernmentDomain(domain string) bool {
	for _, suffix := range []string{".gc.ca", ".gov", ".gouv.qc.ca"} {
		if len(domain) > len(suffix) && domain[len(domain)-len(suffix):] == suffix {
			return true
		}
	}
	return domain == "canada.ca"
}
