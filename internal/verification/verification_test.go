package verification

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"truce/internal/models"
	"truce/internal/search"
)

// stubGatherer returns a scripted batch of sources per call.
type stubGatherer struct {
	mu      sync.Mutex
	batches [][]*search.RawSource
	calls   int
	err     error
}

func (g *stubGatherer) GatherSources(_ context.Context, _ string, _ models.TimeWindow, _ string) ([]*search.RawSource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if len(g.batches) == 0 {
		return nil, nil
	}
	batch := g.batches[0]
	g.batches = g.batches[1:]
	return batch, nil
}

func mustClaim(t *testing.T, text string) *models.Claim {
	t.Helper()
	claim, err := models.NewClaim(text, "crime statistics", nil)
	if err != nil {
		t.Fatalf("NewClaim: %v", err)
	}
	return claim
}

func evidenceAt(url, snippet string, published *time.Time) *models.Evidence {
	ev := models.NewEvidence(url, "Test Publisher", snippet, "explorer")
	ev.PublishedAt = published
	return ev
}

func timePtr(t time.Time) *time.Time { return &t }

func TestNormalizeClaimText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Crime is rising in Toronto", "crime is rising in toronto"},
		{"  Crime   IS\trising  ", "crime is rising"},
		{"already normalized", "already normalized"},
	}
	for _, tt := range tests {
		if got := NormalizeClaimText(tt.in); got != tt.want {
			t.Errorf("NormalizeClaimText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComputeSourcesHashEmpty(t *testing.T) {
	if got := ComputeSourcesHash(nil); got != "no-sources" {
		t.Errorf("empty evidence hash = %q, want no-sources", got)
	}
}

func TestComputeSourcesHashOrderIndependent(t *testing.T) {
	a := evidenceAt("https://example.com/a", "first snippet", nil)
	b := evidenceAt("https://example.com/b", "second snippet", nil)

	forward := ComputeSourcesHash([]*models.Evidence{a, b})
	reverse := ComputeSourcesHash([]*models.Evidence{b, a})
	if forward != reverse {
		t.Errorf("hash depends on input order: %q vs %q", forward, reverse)
	}
}

func TestBuildCacheKeyDeterminism(t *testing.T) {
	window := models.TimeWindow{
		Start: timePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		End:   timePtr(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)),
	}

	key1 := BuildCacheKey("Crime is rising", window, []string{"gpt-4o", "claude-sonnet-4-20250514"}, "abc")
	key2 := BuildCacheKey("  crime IS rising ", window, []string{"claude-sonnet-4-20250514", "gpt-4o"}, "abc")
	if key1 != key2 {
		t.Error("key should be invariant under text normalization and provider order")
	}

	key3 := BuildCacheKey("Crime is rising", models.TimeWindow{}, []string{"gpt-4o", "claude-sonnet-4-20250514"}, "abc")
	if key1 == key3 {
		t.Error("different windows must produce different keys")
	}

	key4 := BuildCacheKey("Crime is rising", window, []string{"gpt-4o"}, "abc")
	if key1 == key4 {
		t.Error("different provider lineups must produce different keys")
	}
}

func TestVerifyCacheHit(t *testing.T) {
	claim := mustClaim(t, "Violent crime is rising in Toronto")
	claim.AppendEvidence(evidenceAt("https://cbc.ca/report", "crime report snippet text", nil))

	gatherer := &stubGatherer{}
	svc := NewService(gatherer, nil, zap.NewNop())

	first, err := svc.Verify(context.Background(), "test-claim", claim, models.TimeWindow{}, []string{"gpt-4o"}, false, "")
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if first.Cached {
		t.Error("first verification should not be cached")
	}

	second, err := svc.Verify(context.Background(), "test-claim", claim, models.TimeWindow{}, []string{"gpt-4o"}, false, "")
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if !second.Cached {
		t.Error("second verification with unchanged evidence should hit the cache")
	}
	if second.VerificationID != first.VerificationID {
		t.Errorf("cached response must carry the original verification id: got %s, want %s",
			second.VerificationID, first.VerificationID)
	}
	if gatherer.calls != 2 {
		t.Errorf("gatherer should run on every verification, got %d calls", gatherer.calls)
	}
}

func TestVerifyForceRefresh(t *testing.T) {
	claim := mustClaim(t, "Violent crime is rising in Toronto")
	claim.AppendEvidence(evidenceAt("https://cbc.ca/report", "crime report snippet text", nil))

	svc := NewService(&stubGatherer{}, nil, zap.NewNop())

	first, err := svc.Verify(context.Background(), "test-claim", claim, models.TimeWindow{}, nil, false, "")
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	forced, err := svc.Verify(context.Background(), "test-claim", claim, models.TimeWindow{}, nil, true, "")
	if err != nil {
		t.Fatalf("forced Verify: %v", err)
	}
	if forced.Cached {
		t.Error("forced verification must bypass the cache")
	}
	if forced.VerificationID == first.VerificationID {
		t.Error("forced verification must mint a new record")
	}
}

func TestVerifyTimeWindowFilter(t *testing.T) {
	claim := mustClaim(t, "Violent crime is rising in Toronto")
	inWindow := evidenceAt("https://cbc.ca/2024", "report from inside the window",
		timePtr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	outside := evidenceAt("https://cbc.ca/2019", "report from long before",
		timePtr(time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)))
	claim.AppendEvidence(inWindow, outside)

	window := models.TimeWindow{
		Start: timePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		End:   timePtr(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)),
	}

	svc := NewService(&stubGatherer{}, nil, zap.NewNop())
	resp, err := svc.Verify(context.Background(), "test-claim", claim, window, nil, false, "")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if len(resp.EvidenceIDs) != 1 || resp.EvidenceIDs[0] != inWindow.ID {
		t.Errorf("record should reference only in-window evidence, got %v", resp.EvidenceIDs)
	}

	boundedHash := ComputeSourcesHash([]*models.Evidence{inWindow})
	unboundedHash := ComputeSourcesHash(claim.Evidence)
	boundedKey := BuildCacheKey(claim.Text, window, nil, boundedHash)
	unboundedKey := BuildCacheKey(claim.Text, models.TimeWindow{}, nil, unboundedHash)
	if boundedKey == unboundedKey {
		t.Error("windowed and unbounded verifications must key separately")
	}
}

func TestVerifyFreshEvidenceBypassesCache(t *testing.T) {
	claim := mustClaim(t, "Violent crime is rising in Toronto")
	claim.AppendEvidence(evidenceAt("https://cbc.ca/report", "crime report snippet text", nil))

	fresh := &search.RawSource{
		Title:   "New statistics release",
		URL:     "https://statcan.gc.ca/new-release",
		Snippet: "newly published crime figures",
	}
	gatherer := &stubGatherer{batches: [][]*search.RawSource{nil, {fresh}}}
	svc := NewService(gatherer, nil, zap.NewNop())

	first, err := svc.Verify(context.Background(), "test-claim", claim, models.TimeWindow{}, nil, false, "")
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	before := len(claim.Evidence)

	second, err := svc.Verify(context.Background(), "test-claim", claim, models.TimeWindow{}, nil, false, "")
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if second.Cached {
		t.Error("fresh evidence must produce an uncached verification")
	}
	if second.VerificationID == first.VerificationID {
		t.Error("fresh evidence must mint a new record")
	}
	if len(claim.Evidence) != before+1 {
		t.Errorf("evidence count = %d, want %d", len(claim.Evidence), before+1)
	}
	found := false
	for _, ev := range claim.Evidence {
		if ev.URL == fresh.URL {
			found = true
		}
	}
	if !found {
		t.Error("gathered source should be appended to the claim")
	}
}

func TestVerifyGathererFailureContinues(t *testing.T) {
	claim := mustClaim(t, "Violent crime is rising in Toronto")
	claim.AppendEvidence(evidenceAt("https://cbc.ca/report", "crime report snippet text", nil))

	gatherer := &stubGatherer{err: context.DeadlineExceeded}
	svc := NewService(gatherer, nil, zap.NewNop())

	resp, err := svc.Verify(context.Background(), "test-claim", claim, models.TimeWindow{}, nil, false, "")
	if err != nil {
		t.Fatalf("Verify should survive gatherer failure: %v", err)
	}
	if len(resp.EvidenceIDs) != 1 {
		t.Errorf("existing evidence should still back the record, got %d ids", len(resp.EvidenceIDs))
	}
}

func TestDeriveVerdict(t *testing.T) {
	assess := func(verdicts ...models.VerdictType) *models.Claim {
		claim := mustClaim(t, "Violent crime is rising in Toronto")
		for _, v := range verdicts {
			claim.ModelAssessments = append(claim.ModelAssessments, &models.ModelAssessment{
				ID: uuid.New(), Verdict: v,
			})
		}
		return claim
	}

	tests := []struct {
		name  string
		claim *models.Claim
		want  models.VerdictType
	}{
		{"no assessments", assess(), models.VerdictUncertain},
		{"majority supports", assess(models.VerdictSupports, models.VerdictSupports, models.VerdictRefutes), models.VerdictSupports},
		{"majority refutes", assess(models.VerdictRefutes, models.VerdictRefutes, models.VerdictSupports), models.VerdictRefutes},
		{"tie is mixed", assess(models.VerdictSupports, models.VerdictRefutes), models.VerdictMixed},
		{"all uncertain", assess(models.VerdictUncertain, models.VerdictUncertain), models.VerdictUncertain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveVerdict(tt.claim); got != tt.want {
				t.Errorf("DeriveVerdict = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive", "verifications.db")
	archive, err := OpenArchive(path)
	require.NoError(t, err)
	defer archive.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	record := &models.VerificationRecord{
		ID:          uuid.New(),
		ClaimSlug:   "crime-is-rising-in-toronto",
		Verdict:     models.VerdictSupports,
		Providers:   []string{"gpt-4o", "grok-3"},
		EvidenceIDs: []uuid.UUID{uuid.New(), uuid.New()},
		SourcesHash: "abc123",
		Window:      models.TimeWindow{Start: &start},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, archive.Record(record, "cache-key-1"))

	records, err := archive.ForClaim("crime-is-rising-in-toronto", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, models.VerdictSupports, got.Verdict)
	assert.Equal(t, []string{"gpt-4o", "grok-3"}, got.Providers)
	assert.Equal(t, record.EvidenceIDs, got.EvidenceIDs)
	assert.Equal(t, "abc123", got.SourcesHash)
	require.NotNil(t, got.Window.Start)
	assert.True(t, got.Window.Start.Equal(start))
	assert.Nil(t, got.Window.End)

	missing, err := archive.ForClaim("unknown-claim", 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
