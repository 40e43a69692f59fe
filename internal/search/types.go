// Package search implements the web toolset: Brave search, page
// fetching with HTML metadata extraction, and source deduplication.
// Both operations sit behind shared leaky-bucket rate limiters.
package search

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"truce/internal/models"
)

// Search strategies callers tag queries with.
const (
	StrategyDirect     = "direct"
	StrategyAcademic   = "academic"
	StrategyGovernment = "government"
	StrategyNews       = "news"
)

// RawSource is one search result. The hydrated fields (NormalizedURL,
// Domain, ContentHash, RetrievedAt) are populated by Deduplicate.
type RawSource struct {
	Title       string
	URL         string
	Snippet     string
	Publisher   string
	PublishedAt *time.Time
	Domain      string
	Strategy    string

	NormalizedURL string
	ContentHash   string
	RetrievedAt   time.Time
}

// ToEvidence converts a hydrated source into an evidence record.
func (s *RawSource) ToEvidence(provenance string) *models.Evidence {
	ev := &models.Evidence{
		URL:           s.URL,
		Title:         s.Title,
		Snippet:       s.Snippet,
		Publisher:     s.Publisher,
		PublishedAt:   s.PublishedAt,
		Provenance:    provenance,
		NormalizedURL: s.NormalizedURL,
		Domain:        s.Domain,
		ContentHash:   s.ContentHash,
		RetrievedAt:   s.RetrievedAt,
	}
	if len(ev.Snippet) > models.MaxSnippetLen {
		ev.Snippet = ev.Snippet[:models.MaxSnippetLen]
	}
	ev.Finalize()
	return ev
}

// PageContent is the metadata extracted from a fetched page.
type PageContent struct {
	Title       string
	Snippet     string
	Publisher   string
	PublishedAt *time.Time
}

// IsFallback reports whether the content is the failure sentinel.
func (p PageContent) IsFallback() bool {
	return p.Publisher == fallbackPublisher && p.Snippet == fallbackSnippet
}

const (
	fallbackPublisher = "Unknown"
	fallbackSnippet   = "Content available at source."
)

var wwwPrefix = regexp.MustCompile(`^www\.`)

// publisherNames maps known domains to friendly publisher names.
var publisherNames = map[string]string{
	"cbc.ca":                   "CBC News",
	"theglobeandmail.com":      "The Globe and Mail",
	"globalnews.ca":            "Global News",
	"ctvnews.ca":               "CTV News",
	"thestar.com":              "Toronto Star",
	"nationalpost.com":         "National Post",
	"macleans.ca":              "Maclean's",
	"statcan.gc.ca":            "Statistics Canada",
	"rcmp-grc.gc.ca":           "RCMP",
	"canada.ca":                "Government of Canada",
	"citynews.ca":              "CityNews",
	"policyoptions.irpp.org":   "Policy Options",
	"reuters.com":              "Reuters",
}

// PublisherFromURL derives a publisher name from a URL: known domains
// map to friendly names, the rest to a title-cased bare domain.
func PublisherFromURL(rawURL string) string {
	domain := models.ExtractDomain(rawURL)
	if domain == "" {
		return fallbackPublisher
	}
	domain = wwwPrefix.ReplaceAllString(domain, "")
	if name, ok := publisherNames[domain]; ok {
		return name
	}
	bare := strings.TrimSuffix(strings.TrimSuffix(domain, ".com"), ".ca")
	return titleCase(bare)
}

func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) && !prevLetter {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(r)
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}

// Deduplicate hydrates the batch (normalized URL, domain, content
// hash, retrieval time) and drops repeated normalized URLs, keeping
// the first occurrence.
func Deduplicate(sources []*RawSource) []*RawSource {
	seen := make(map[string]bool, len(sources))
	now := time.Now().UTC()
	var out []*RawSource
	for _, s := range sources {
		if s.NormalizedURL == "" {
			s.NormalizedURL = models.NormalizeURL(s.URL)
		}
		if s.Domain == "" {
			s.Domain = models.ExtractDomain(s.URL)
		}
		if s.ContentHash == "" {
			s.ContentHash = models.ComputeContentHash(s.Title, s.Snippet)
		}
		if s.RetrievedAt.IsZero() {
			s.RetrievedAt = now
		}
		if seen[s.NormalizedURL] {
			continue
		}
		seen[s.NormalizedURL] = true
		out = append(out, s)
	}
	return out
}
