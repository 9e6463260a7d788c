package video

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; recipe-enricher/1.0)"
	maxPageBytes     = 5 << 20
)

// PageScraper fetches HTML pages and reads the text hosts publish for link
// previews.
type PageScraper struct {
	client    *http.Client
	userAgent string
}

// NewPageScraper creates a scraper. A nil client gets a 20s timeout.
func NewPageScraper(client *http.Client) *PageScraper {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PageScraper{client: client, userAgent: defaultUserAgent}
}

// Fetch downloads and parses a page.
func (s *PageScraper) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("scrape %s: unexpected status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// Describe returns the longest preview description the page declares.
func (s *PageScraper) Describe(ctx context.Context, url string) (string, error) {
	doc, err := s.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return PageDescription(doc), nil
}

// PageDescription picks the longest of the og, twitter and plain meta
// descriptions.
func PageDescription(doc *goquery.Document) string {
	best := ""
	for _, sel := range []string{
		"meta[property='og:description']",
		"meta[name='twitter:description']",
		"meta[name='description']",
	} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			content = strings.TrimSpace(content)
			if len(content) > len(best) {
				best = content
			}
		}
	}
	return best
}

// PageImage returns the page's preview image URL, if any.
func PageImage(doc *goquery.Document) string {
	if img, ok := doc.Find("meta[property='og:image']").First().Attr("content"); ok {
		return strings.TrimSpace(img)
	}
	return ""
}
