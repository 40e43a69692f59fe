// Package claims holds the in-memory claim registry and the
// create-from-query flow that drives a full agentic adjudication.
package claims

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"truce/internal/models"
)

const maxSlugLen = 80

// GenerateSlug derives a URL-safe base slug from claim text:
// lowercased, spaces to dashes, periods removed, everything but
// alphanumerics and dashes dropped, capped at 80 characters.
func GenerateSlug(text string) string {
	slug := strings.ToLower(text)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, ".", "")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	slug = b.String()
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	return slug
}

// UniqueSlug appends a timestamp and random suffix to the base slug so
// repeated claims with identical text never collide.
func UniqueSlug(text string) string {
	return GenerateSlug(text) + "-" +
		timestampSuffix(time.Now().UTC()) + "-" +
		strings.ReplaceAll(uuid.New().String(), "-", "")[:4]
}

func timestampSuffix(t time.Time) string {
	digits := t.Unix() % 10000
	out := []byte{'0', '0', '0', '0'}
	for i := 3; i >= 0 && digits > 0; i-- {
		out[i] = byte('0' + digits%10)
		digits /= 10
	}
	return string(out)
}

// Registry is the claim store, keyed by slug.
type Registry struct {
	mu     sync.RWMutex
	claims map[string]*models.Claim
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{claims: make(map[string]*models.Claim)}
}

// Add registers a claim under a fresh unique slug and returns it.
func (r *Registry) Add(claim *models.Claim) string {
	slug := UniqueSlug(claim.Text)
	r.mu.Lock()
	r.claims[slug] = claim
	r.mu.Unlock()
	return slug
}

// Get returns the claim registered under slug.
func (r *Registry) Get(slug string) (*models.Claim, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	claim, ok := r.claims[slug]
	return claim, ok
}

// Len returns the number of registered claims.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.claims)
}

// TopicPeers returns claims sharing the topic, excluding the given
// claim itself.
func (r *Registry) TopicPeers(claim *models.Claim) []*models.Claim {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var peers []*models.Claim
	for _, other := range r.claims {
		if other.Topic == claim.Topic && other.ID != claim.ID {
			peers = append(peers, other)
		}
	}
	return peers
}
