package explorer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"truce/internal/models"
	"truce/internal/progress"
	"truce/internal/search"
)

type fakeSearcher struct {
	byStrategy map[string][]*search.RawSource
	queries    []string
}

func (f *fakeSearcher) SearchWeb(ctx context.Context, query string, window models.TimeWindow, strategy, sessionID string) []*search.RawSource {
	f.queries = append(f.queries, query)
	return f.byStrategy[strategy]
}

type fakeFetcher struct {
	pages map[string]search.PageContent
}

func (f *fakeFetcher) FetchPage(ctx context.Context, url string) search.PageContent {
	if page, ok := f.pages[url]; ok {
		return page
	}
	return search.FallbackContent(url)
}

func src(url, domain, title string) *search.RawSource {
	return &search.RawSource{URL: url, Domain: domain, Title: title, Snippet: "snippet for " + title}
}

func newTestExplorer(cfg Config, searcher Searcher, fetcher PageFetcher) (*Explorer, *progress.Bus) {
	bus := progress.NewBus(zap.NewNop())
	return New(cfg, searcher, fetcher, bus, zap.NewNop()), bus
}

func TestGatherSourcesStrategyQueries(t *testing.T) {
	searcher := &fakeSearcher{byStrategy: map[string][]*search.RawSource{}}
	e, _ := newTestExplorer(Config{}, searcher, &fakeFetcher{})

	if _, err := e.GatherSources(context.Background(), "crime rose in Toronto", models.TimeWindow{}, ""); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"crime rose in Toronto",
		"research study analysis crime rose in Toronto",
		"government official statistics crime rose in Toronto",
		"news report investigation crime rose in Toronto",
	}
	if len(searcher.queries) != len(want) {
		t.Fatalf("queries = %v", searcher.queries)
	}
	for i, q := range want {
		if searcher.queries[i] != q {
			t.Errorf("query %d = %q, want %q", i, searcher.queries[i], q)
		}
	}
}

func TestGatherSourcesMergesDirectPages(t *testing.T) {
	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{byStrategy: map[string][]*search.RawSource{
		search.StrategyDirect: {src("https://a.example/1", "a.example", "Search title")},
	}}
	fetcher := &fakeFetcher{pages: map[string]search.PageContent{
		"https://a.example/1": {
			Title:       "Page title",
			Snippet:     "A richer page description.",
			Publisher:   "A Example",
			PublishedAt: &published,
		},
	}}
	e, _ := newTestExplorer(Config{}, searcher, fetcher)

	out, err := e.GatherSources(context.Background(), "some claim text", models.TimeWindow{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("sources = %d, want 1", len(out))
	}
	got := out[0]
	if got.Title != "Page title" || got.Snippet != "A richer page description." || got.Publisher != "A Example" {
		t.Errorf("page fields not merged: %+v", got)
	}
	if got.PublishedAt == nil || !got.PublishedAt.Equal(published) {
		t.Errorf("published_at not merged: %v", got.PublishedAt)
	}
}

func TestGatherSourcesWindowFilter(t *testing.T) {
	recent := time.Now().UTC().AddDate(0, 0, -1)
	old := time.Now().UTC().AddDate(-5, 0, 0)
	start := time.Now().UTC().AddDate(0, 0, -2)

	recentSrc := src("https://a.example/recent", "a.example", "Recent")
	recentSrc.PublishedAt = &recent
	oldSrc := src("https://b.example/old", "b.example", "Old")
	oldSrc.PublishedAt = &old
	undatedSrc := src("https://c.example/undated", "c.example", "Undated")

	searcher := &fakeSearcher{byStrategy: map[string][]*search.RawSource{
		search.StrategyDirect: {recentSrc, oldSrc, undatedSrc},
	}}
	e, _ := newTestExplorer(Config{}, searcher, &fakeFetcher{})

	out, err := e.GatherSources(context.Background(), "some claim text", models.TimeWindow{Start: &start}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("sources = %d, want 2 (old one filtered)", len(out))
	}
	for _, s := range out {
		if s.URL == oldSrc.URL {
			t.Error("out-of-window source should be dropped")
		}
	}
}

func TestGatherSourcesDomainDiversity(t *testing.T) {
	// 6 from one domain plus 3 singletons; target 6, share 0.4 caps
	// any domain at max(1, floor(6*0.4)) = 2.
	var batch []*search.RawSource
	for i := 0; i < 6; i++ {
		batch = append(batch, src(fmt.Sprintf("https://same.com/%d", i), "same.com", fmt.Sprintf("Same %d", i)))
	}
	for i := 0; i < 3; i++ {
		domain := fmt.Sprintf("other%d.com", i)
		batch = append(batch, src("https://"+domain+"/x", domain, "Other "+domain))
	}
	searcher := &fakeSearcher{byStrategy: map[string][]*search.RawSource{search.StrategyDirect: batch}}
	e, _ := newTestExplorer(Config{TargetSourceCount: 6, MaxDomainShare: 0.4}, searcher, &fakeFetcher{})

	out, err := e.GatherSources(context.Background(), "some claim text", models.TimeWindow{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) > 6 {
		t.Errorf("output = %d sources, want at most 6", len(out))
	}
	counts := map[string]int{}
	for _, s := range out {
		counts[s.Domain]++
	}
	for domain, n := range counts {
		if n > 2 {
			t.Errorf("domain %s contributed %d sources, cap is 2", domain, n)
		}
	}
	// Earlier (higher-ranked) sources win within a domain.
	if counts["same.com"] != 2 || out[0].Title != "Same 0" || out[1].Title != "Same 1" {
		t.Errorf("unexpected selection order: %+v", counts)
	}
}

func TestGatherSourcesCancelled(t *testing.T) {
	searcher := &fakeSearcher{byStrategy: map[string][]*search.RawSource{}}
	e, bus := newTestExplorer(Config{}, searcher, &fakeFetcher{})
	bus.Open("s1")
	bus.Cancel("s1")

	_, err := e.GatherSources(context.Background(), "some claim text", models.TimeWindow{}, "s1")
	if !errors.Is(err, progress.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if len(searcher.queries) != 0 {
		t.Errorf("cancelled session should not search, ran %v", searcher.queries)
	}
}
