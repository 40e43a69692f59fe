// Package verification implements the deterministic verification
// cache, the verify flow built on it, and the SQLite audit archive.
package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"truce/internal/models"
)

// NormalizeClaimText lowercases and collapses whitespace for hashing.
func NormalizeClaimText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ComputeSourcesHash digests the evidence set: "|"-joined
// (id, url, publisher, snippet, published_at) tuples sorted by id.
// An empty set hashes to the sentinel "no-sources".
func ComputeSourcesHash(evidence []*models.Evidence) string {
	if len(evidence) == 0 {
		return "no-sources"
	}

	sorted := make([]*models.Evidence, len(evidence))
	copy(sorted, evidence)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	digest := sha256.New()
	for _, ev := range sorted {
		published := ""
		if ev.PublishedAt != nil {
			published = ev.PublishedAt.UTC().Format("2006-01-02T15:04:05")
		}
		record := strings.Join([]string{
			ev.ID.String(),
			ev.URL,
			ev.Publisher,
			ev.Snippet,
			published,
		}, "|")
		digest.Write([]byte(record))
	}
	return hex.EncodeToString(digest.Sum(nil))
}

// BuildCacheKey derives the deterministic cache key from the claim
// text, window bounds, provider lineup, and sources hash.
func BuildCacheKey(claimText string, window models.TimeWindow, providers []string, sourcesHash string) string {
	start, end := "null", "null"
	if window.Start != nil {
		start = window.Start.UTC().Format("2006-01-02T15:04:05")
	}
	if window.End != nil {
		end = window.End.UTC().Format("2006-01-02T15:04:05")
	}

	fingerprint := ""
	if len(providers) > 0 {
		sorted := make([]string, len(providers))
		copy(sorted, providers)
		sort.Strings(sorted)
		fingerprint = strings.Join(sorted, "|")
	}

	material := strings.Join([]string{
		NormalizeClaimText(claimText),
		start,
		end,
		fingerprint,
		sourcesHash,
	}, "|")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
