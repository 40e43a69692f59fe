package models

import "time"

// TimeWindow bounds evidence by publication timestamp. Either side
// may be nil (unbounded).
type TimeWindow struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// IsZero reports whether the window is unbounded on both sides.
func (w TimeWindow) IsZero() bool {
	return w.Start == nil && w.End == nil
}

// Contains reports whether a publication timestamp falls inside the
// window. Evidence without a publication timestamp always passes.
func (w TimeWindow) Contains(published *time.Time) bool {
	if published == nil {
		return true
	}
	if w.Start != nil && published.Before(*w.Start) {
		return false
	}
	if w.End != nil && published.After(*w.End) {
		return false
	}
	return true
}

// FilterEvidence returns the evidence items whose publication
// timestamp lies within the window.
func (w TimeWindow) FilterEvidence(evidence []*Evidence) []*Evidence {
	if w.IsZero() {
		out := make([]*Evidence, len(evidence))
		copy(out, evidence)
		return out
	}
	var filtered []*Evidence
	for _, ev := range evidence {
		if w.Contains(ev.PublishedAt) {
			filtered = append(filtered, ev)
		}
	}
	return filtered
}
