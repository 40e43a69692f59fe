// Package models defines the core data structures of the adjudicator:
// claims, evidence, panel verdicts, and verification records.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxSnippetLen bounds evidence snippets.
const MaxSnippetLen = 1000

// Evidence is a web source attached to a claim. NormalizedURL and
// ContentHash are always populated after NewEvidence.
type Evidence struct {
	ID            uuid.UUID  `json:"id"`
	URL           string     `json:"url"`
	Publisher     string     `json:"publisher"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	RetrievedAt   time.Time  `json:"retrieved_at"`
	Title         string     `json:"title,omitempty"`
	Domain        string     `json:"domain,omitempty"`
	Snippet       string     `json:"snippet"`
	Provenance    string     `json:"provenance"`
	NormalizedURL string     `json:"normalized_url"`
	ContentHash   string     `json:"content_hash"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewEvidence constructs an Evidence record, computing the normalized
// URL, domain, and content hash when they are not supplied.
func NewEvidence(rawURL, publisher, snippet, provenance string) *Evidence {
	now := time.Now().UTC()
	if len(snippet) > MaxSnippetLen {
		snippet = snippet[:MaxSnippetLen]
	}
	ev := &Evidence{
		ID:          uuid.New(),
		URL:         rawURL,
		Publisher:   publisher,
		Snippet:     snippet,
		Provenance:  provenance,
		RetrievedAt: now,
		CreatedAt:   now,
	}
	ev.Finalize()
	return ev
}

// Finalize fills in derived fields that are still empty. Safe to call
// more than once.
func (e *Evidence) Finalize() {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.NormalizedURL == "" && e.URL != "" {
		e.NormalizedURL = NormalizeURL(e.URL)
	}
	if e.Domain == "" && e.URL != "" {
		e.Domain = ExtractDomain(e.URL)
	}
	if e.ContentHash == "" {
		e.ContentHash = ComputeContentHash(e.Title, e.Snippet)
	}
	if e.RetrievedAt.IsZero() {
		e.RetrievedAt = time.Now().UTC()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.RetrievedAt
	}
}

// NormalizeURL canonicalizes a URL for deduplication: lowercased
// scheme and host, path without trailing slash, query parameters
// sorted and re-encoded, fragment dropped.
func NormalizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		host += ":" + port
	}
	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		path = "/"
	}

	query := ""
	if parsed.RawQuery != "" {
		values, err := url.ParseQuery(parsed.RawQuery)
		if err == nil {
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var pairs []string
			for _, k := range keys {
				vs := values[k]
				sort.Strings(vs)
				for _, v := range vs {
					pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
				}
			}
			query = strings.Join(pairs, "&")
		}
	}

	normalized := scheme + "://" + host + path
	if query != "" {
		normalized += "?" + query
	}
	return normalized
}

// ExtractDomain returns the lowercased hostname of a URL.
func ExtractDomain(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// ComputeContentHash digests lowercased, trimmed title and snippet.
func ComputeContentHash(title, snippet string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(snippet))))
	return hex.EncodeToString(h.Sum(nil))
}
