// Package explorer gathers web sources for a claim by fanning a set
// of search strategies out over the search toolset, then enforcing
// deduplication, time-window, and domain-diversity constraints.
package explorer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"truce/internal/models"
	"truce/internal/progress"
	"truce/internal/search"
)

// Searcher is the search operation the explorer depends on.
type Searcher interface {
	SearchWeb(ctx context.Context, query string, window models.TimeWindow, strategy, sessionID string) []*search.RawSource
}

// PageFetcher is the fetch operation the explorer depends on.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) search.PageContent
}

// Secondary strategies cap their contribution to this many results.
const secondaryStrategyCap = 10

// strategyQueries pairs each strategy with its query prefix, in
// execution order. The direct strategy searches the claim verbatim.
var strategyQueries = []struct {
	strategy string
	prefix   string
}{
	{search.StrategyDirect, ""},
	{search.StrategyAcademic, "research study analysis "},
	{search.StrategyGovernment, "government official statistics "},
	{search.StrategyNews, "news report investigation "},
}

// Explorer runs the multi-strategy gathering pass.
type Explorer struct {
	searcher    Searcher
	fetcher     PageFetcher
	bus         *progress.Bus
	logger      *zap.Logger
	targetCount int
	domainShare float64
}

// Config bounds the explorer's output.
type Config struct {
	TargetSourceCount int
	MaxDomainShare    float64
}

// New creates an explorer.
func New(cfg Config, searcher Searcher, fetcher PageFetcher, bus *progress.Bus, logger *zap.Logger) *Explorer {
	if cfg.TargetSourceCount <= 0 {
		cfg.TargetSourceCount = 20
	}
	if cfg.MaxDomainShare <= 0 || cfg.MaxDomainShare > 1 {
		cfg.MaxDomainShare = 0.25
	}
	return &Explorer{
		searcher:    searcher,
		fetcher:     fetcher,
		bus:         bus,
		logger:      logger,
		targetCount: cfg.TargetSourceCount,
		domainShare: cfg.MaxDomainShare,
	}
}

// MaxPerDomain is the per-domain cap: max(1, floor(target * share)).
func (e *Explorer) MaxPerDomain() int {
	perDomain := int(float64(e.targetCount) * e.domainShare)
	if perDomain < 1 {
		perDomain = 1
	}
	return perDomain
}

// GatherSources runs all strategies in order and returns at most
// targetCount hydrated sources. Within a domain, higher-ranked
// sources win; across strategies, direct-first order is preserved.
func (e *Explorer) GatherSources(ctx context.Context, claimText string, window models.TimeWindow, sessionID string) ([]*search.RawSource, error) {
	var batch []*search.RawSource

	for _, sq := range strategyQueries {
		if err := e.bus.CheckCancelled(sessionID); err != nil {
			return nil, err
		}
		e.bus.Emit(sessionID, "searching", fmt.Sprintf("searching %s sources", sq.strategy), map[string]any{
			"strategy": sq.strategy,
		})

		results := e.searcher.SearchWeb(ctx, sq.prefix+claimText, window, sq.strategy, sessionID)
		if sq.strategy != search.StrategyDirect && len(results) > secondaryStrategyCap {
			results = results[:secondaryStrategyCap]
		}
		if sq.strategy == search.StrategyDirect {
			e.hydrateFromPages(ctx, results)
		}
		batch = append(batch, results...)
	}

	batch = search.Deduplicate(batch)
	batch = filterWindow(batch, window)
	selected := e.enforceDomainDiversity(batch)

	if len(selected) > 0 {
		e.bus.Emit(sessionID, "evidence_found", fmt.Sprintf("Found and processed %d evidence sources", len(selected)), map[string]any{
			"evidence_count": len(selected),
		})
	} else {
		e.bus.Emit(sessionID, "sources_limited", "Limited evidence sources found, continuing with analysis...", nil)
	}
	e.logger.Debug("explorer pass complete",
		zap.Int("candidates", len(batch)),
		zap.Int("selected", len(selected)))
	return selected, nil
}

// hydrateFromPages fetches each direct result and merges non-sentinel
// page fields over the search result.
func (e *Explorer) hydrateFromPages(ctx context.Context, sources []*search.RawSource) {
	for _, s := range sources {
		page := e.fetcher.FetchPage(ctx, s.URL)
		if page.IsFallback() {
			continue
		}
		if page.Snippet != "" {
			s.Snippet = page.Snippet
		}
		if page.Publisher != "" && page.Publisher != "Unknown" {
			s.Publisher = page.Publisher
		}
		if page.Title != "" && page.Title != s.URL {
			s.Title = page.Title
		}
		if page.PublishedAt != nil {
			s.PublishedAt = page.PublishedAt
		}
	}
}

func filterWindow(sources []*search.RawSource, window models.TimeWindow) []*search.RawSource {
	if window.IsZero() {
		return sources
	}
	var out []*search.RawSource
	for _, s := range sources {
		if window.Contains(s.PublishedAt) {
			out = append(out, s)
		}
	}
	return out
}

// enforceDomainDiversity emits sources in list order, skipping any
// domain that already contributed its cap, until targetCount.
func (e *Explorer) enforceDomainDiversity(sources []*search.RawSource) []*search.RawSource {
	maxPerDomain := e.MaxPerDomain()
	counts := make(map[string]int)
	var out []*search.RawSource
	for _, s := range sources {
		if len(out) >= e.targetCount {
			break
		}
		if counts[s.Domain] >= maxPerDomain {
			continue
		}
		counts[s.Domain]++
		out = append(out, s)
	}
	return out
}
