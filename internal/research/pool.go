// Package research implements the per-model agentic researcher and
// the shared evidence pool that parallel researchers feed into.
package research

import (
	"sync"

	"truce/internal/models"
)

// SharedEvidencePool collects evidence from parallel researchers,
// deduplicating strictly by normalized URL. Content-hash dedup
// happens later, at claim-merge time. Safe for concurrent use.
type SharedEvidencePool struct {
	mu            sync.Mutex
	evidence      []*models.Evidence
	seen          map[string]bool
	contributions map[string]int
}

// NewSharedEvidencePool creates an empty pool.
func NewSharedEvidencePool() *SharedEvidencePool {
	return &SharedEvidencePool{
		seen:          make(map[string]bool),
		contributions: make(map[string]int),
	}
}

// AddEvidence accepts items whose normalized URL the pool has not
// seen yet and returns the number accepted.
func (p *SharedEvidencePool) AddEvidence(items []*models.Evidence, agentName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	accepted := 0
	for _, ev := range items {
		ev.Finalize()
		key := ev.NormalizedURL
		if key == "" || p.seen[key] {
			continue
		}
		p.seen[key] = true
		p.evidence = append(p.evidence, ev)
		accepted++
	}
	p.contributions[agentName] += accepted
	return accepted
}

// Evidence returns a snapshot of the pool contents in insertion order.
func (p *SharedEvidencePool) Evidence() []*models.Evidence {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Evidence, len(p.evidence))
	copy(out, p.evidence)
	return out
}

// Size returns the number of pooled evidence items.
func (p *SharedEvidencePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.evidence)
}

// Contributions returns accepted counts per agent.
func (p *SharedEvidencePool) Contributions() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.contributions))
	for agent, n := range p.contributions {
		out[agent] = n
	}
	return out
}
