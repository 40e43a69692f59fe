package verification

import (
	"sync"

	"github.com/google/uuid"

	"truce/internal/models"
)

// Cache is the in-memory verification cache. Records are copied on
// both read and write so cached entries stay immutable.
type Cache struct {
	mu      sync.Mutex
	records map[string]*models.VerificationRecord
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{records: make(map[string]*models.VerificationRecord)}
}

// Get returns a copy of the stored record, if any.
func (c *Cache) Get(key string) (*models.VerificationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[key]
	if !ok {
		return nil, false
	}
	return copyRecord(record), true
}

// Put stores a copy of the record, replacing any prior entry.
func (c *Cache) Put(key string, record *models.VerificationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[key] = copyRecord(record)
}

// Reset clears the cache. Primarily for tests.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*models.VerificationRecord)
}

func copyRecord(record *models.VerificationRecord) *models.VerificationRecord {
	dup := *record
	dup.Providers = append([]string(nil), record.Providers...)
	dup.EvidenceIDs = append([]uuid.UUID(nil), record.EvidenceIDs...)
	return &dup
}
