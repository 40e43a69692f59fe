package verification

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"truce/internal/models"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS verifications (
	id            TEXT PRIMARY KEY,
	claim_slug    TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	providers     TEXT NOT NULL,
	evidence_ids  TEXT NOT NULL,
	sources_hash  TEXT NOT NULL,
	window_start  TEXT,
	window_end    TEXT,
	cache_key     TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verifications_claim ON verifications(claim_slug);
`

// Archive journals verification records to SQLite for post-hoc
// audit. It is write-through only: the cache read path never touches
// it.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (and if needed creates) the archive database.
func OpenArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Record journals one verification record under its cache key.
func (a *Archive) Record(record *models.VerificationRecord, cacheKey string) error {
	providers, err := json.Marshal(record.Providers)
	if err != nil {
		return fmt.Errorf("failed to marshal providers: %w", err)
	}
	evidenceIDs, err := json.Marshal(record.EvidenceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence ids: %w", err)
	}

	var start, end any
	if record.Window.Start != nil {
		start = record.Window.Start.UTC().Format(time.RFC3339)
	}
	if record.Window.End != nil {
		end = record.Window.End.UTC().Format(time.RFC3339)
	}

	_, err = a.db.Exec(`
		INSERT OR REPLACE INTO verifications
		(id, claim_slug, verdict, providers, evidence_ids, sources_hash, window_start, window_end, cache_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(),
		record.ClaimSlug,
		string(record.Verdict),
		string(providers),
		string(evidenceIDs),
		record.SourcesHash,
		start,
		end,
		cacheKey,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification record: %w", err)
	}
	return nil
}

// ForClaim returns the journaled records for a claim, newest first.
func (a *Archive) ForClaim(claimSlug string, limit int) ([]*models.VerificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`
		SELECT id, claim_slug, verdict, providers, evidence_ids, sources_hash, window_start, window_end, created_at
		FROM verifications WHERE claim_slug = ? ORDER BY created_at DESC LIMIT ?`,
		claimSlug, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var records []*models.VerificationRecord
	for rows.Next() {
		var (
			idText, slug, verdict, providers, evidenceIDs, sourcesHash, createdAt string
			start, end                                                           sql.NullString
		)
		if err := rows.Scan(&idText, &slug, &verdict, &providers, &evidenceIDs, &sourcesHash, &start, &end, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification row: %w", err)
		}

		record := &models.VerificationRecord{
			ClaimSlug:   slug,
			Verdict:     models.VerdictType(verdict),
			SourcesHash: sourcesHash,
		}
		if record.ID, err = uuid.Parse(idText); err != nil {
			return nil, fmt.Errorf("corrupt verification id %q: %w", idText, err)
		}
		if err := json.Unmarshal([]byte(providers), &record.Providers); err != nil {
			return nil, fmt.Errorf("corrupt providers column: %w", err)
		}
		if err := json.Unmarshal([]byte(evidenceIDs), &record.EvidenceIDs); err != nil {
			return nil, fmt.Errorf("corrupt evidence_ids column: %w", err)
		}
		if start.Valid {
			if ts, err := time.Parse(time.RFC3339, start.String); err == nil {
				record.Window.Start = &ts
			}
		}
		if end.Valid {
			if ts, err := time.Parse(time.RFC3339, end.String); err == nil {
				record.Window.End = &ts
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			record.CreatedAt = ts
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
