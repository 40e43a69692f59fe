package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"truce/internal/models"
	"truce/internal/progress"
)

// BraveClient queries the Brave web search API. Searches share one
// leaky-bucket limiter across all callers; failures degrade to an
// empty result list with a non-fatal progress event.
type BraveClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
	limiter    *rate.Limiter
	bus        *progress.Bus
	logger     *zap.Logger
}

// BraveClientConfig configures a BraveClient.
type BraveClientConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	// Requests per second for the shared limiter.
	RPS float64
}

// NewBraveClient creates a search client. An empty API key is
// allowed; searches then return empty results with an event.
func NewBraveClient(cfg BraveClientConfig, bus *progress.Bus, logger *zap.Logger) *BraveClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.search.brave.com/res/v1"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	return &BraveClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		bus:        bus,
		logger:     logger,
	}
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age"`
	PageAge     string `json:"page_age"`
	Profile     struct {
		Name string `json:"name"`
	} `json:"profile"`
	MetaURL struct {
		Hostname string `json:"hostname"`
	} `json:"meta_url"`
}

type braveSearchResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

// SearchWeb runs one query tagged with a strategy. Provider errors
// never propagate: the caller gets an empty list and the session an
// api_error event.
func (c *BraveClient) SearchWeb(ctx context.Context, query string, window models.TimeWindow, strategy, sessionID string) []*RawSource {
	sources, err := c.search(ctx, query, window, strategy)
	if err != nil {
		c.logger.Warn("web search failed",
			zap.String("query", query),
			zap.String("strategy", strategy),
			zap.Error(err))
		c.bus.Emit(sessionID, "api_error", "web search unavailable", map[string]any{
			"query":    query,
			"strategy": strategy,
			"error":    err.Error(),
		})
		return nil
	}
	return sources
}

func (c *BraveClient) search(ctx context.Context, query string, window models.TimeWindow, strategy string) ([]*RawSource, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("search provider not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(c.maxResults))
	params.Set("country", "ca")
	params.Set("search_lang", "en")
	if f := freshnessParam(window); f != "" {
		params.Set("freshness", f)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, truncateForLog(body))
	}

	var parsed braveSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	sources := make([]*RawSource, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if r.URL == "" {
			continue
		}
		publisher := r.Profile.Name
		if publisher == "" {
			publisher = PublisherFromURL(r.URL)
		}
		sources = append(sources, &RawSource{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Description,
			Publisher:   publisher,
			PublishedAt: parsePublished(r.PageAge, r.Age),
			Domain:      models.ExtractDomain(r.URL),
			Strategy:    strategy,
		})
	}
	return sources, nil
}

// freshnessParam renders a time window as the API's
// YYYY-MM-DDtoYYYY-MM-DD freshness range.
func freshnessParam(window models.TimeWindow) string {
	if window.IsZero() {
		return ""
	}
	start := "2000-01-01"
	if window.Start != nil {
		start = window.Start.UTC().Format("2006-01-02")
	}
	end := time.Now().UTC().Format("2006-01-02")
	if window.End != nil {
		end = window.End.UTC().Format("2006-01-02")
	}
	return start + "to" + end
}

var relativeNumber = regexp.MustCompile(`(\d+)`)

// parsePublished turns the result's page_age (ISO timestamp) or age
// ("3 days ago") into a publication time, or nil when neither parses.
func parsePublished(pageAge, age string) *time.Time {
	if pageAge != "" {
		if ts, err := time.Parse(time.RFC3339, pageAge); err == nil {
			utc := ts.UTC()
			return &utc
		}
		if ts, err := time.Parse("2006-01-02T15:04:05", pageAge); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	if age == "" {
		return nil
	}
	m := relativeNumber.FindString(age)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	now := time.Now().UTC()
	lower := strings.ToLower(age)
	var ts time.Time
	switch {
	case strings.Contains(lower, "minute"):
		ts = now.Add(-time.Duration(n) * time.Minute)
	case strings.Contains(lower, "hour"):
		ts = now.Add(-time.Duration(n) * time.Hour)
	case strings.Contains(lower, "day"):
		ts = now.AddDate(0, 0, -n)
	case strings.Contains(lower, "week"):
		ts = now.AddDate(0, 0, -7*n)
	case strings.Contains(lower, "month"):
		ts = now.AddDate(0, -n, 0)
	case strings.Contains(lower, "year"):
		ts = now.AddDate(-n, 0, 0)
	default:
		return nil
	}
	return &ts
}

func truncateForLog(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
