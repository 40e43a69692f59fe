package search

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const fetchUserAgent = "Mozilla/5.0 (Truce Bot 1.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Fetcher retrieves pages and extracts title, description, publisher,
// and publication date from their metadata. Any failure yields the
// fallback sentinel instead of an error.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewFetcher creates a page fetcher with the given total timeout and
// shared rate limit.
func NewFetcher(timeout time.Duration, rps float64, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rps <= 0 {
		rps = 3
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// FallbackContent is the sentinel returned when a page cannot be
// fetched or parsed.
func FallbackContent(rawURL string) PageContent {
	return PageContent{
		Title:     rawURL,
		Snippet:   fallbackSnippet,
		Publisher: fallbackPublisher,
	}
}

// FetchPage retrieves one page. Never returns an error: failures
// produce FallbackContent.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) PageContent {
	if err := f.limiter.Wait(ctx); err != nil {
		return FallbackContent(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FallbackContent(rawURL)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return FallbackContent(rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FallbackContent(rawURL)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		return FallbackContent(rawURL)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		f.logger.Debug("page parse failed", zap.String("url", rawURL), zap.Error(err))
		return FallbackContent(rawURL)
	}
	return extractContent(doc, rawURL)
}

// extractContent pulls metadata out of a parsed document.
func extractContent(doc *html.Node, rawURL string) PageContent {
	var (
		title       string
		metaDesc    string
		firstPara   string
		publishedAt *time.Time
		siteName    string
	)

	var traverse func(n *html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					title = strings.TrimSpace(textContent(n))
				}
			case "meta":
				name := attr(n, "name")
				property := attr(n, "property")
				content := strings.TrimSpace(attr(n, "content"))
				if content != "" {
					switch {
					case name == "description" && metaDesc == "":
						metaDesc = content
					case publishedAt == nil && (property == "article:published_time" || name == "date" || name == "publish-date"):
						publishedAt = parseMetaDate(content)
					case siteName == "" && (property == "og:site_name" || name == "application-name" || name == "site_name"):
						siteName = content
					}
				}
			case "time":
				if publishedAt == nil {
					if dt := attr(n, "datetime"); dt != "" {
						publishedAt = parseMetaDate(dt)
					}
				}
			case "p":
				if firstPara == "" {
					text := strings.TrimSpace(textContent(n))
					if len(text) > 50 {
						if len(text) > 500 {
							text = text[:500]
						}
						firstPara = text
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(doc)

	snippet := metaDesc
	if snippet == "" {
		snippet = firstPara
	}
	if snippet == "" {
		snippet = fallbackSnippet
	}
	if title == "" {
		title = rawURL
	}
	publisher := siteName
	if publisher == "" {
		publisher = PublisherFromURL(rawURL)
	}
	return PageContent{
		Title:       title,
		Snippet:     snippet,
		Publisher:   publisher,
		PublishedAt: publishedAt,
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func parseMetaDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}
