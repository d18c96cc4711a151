package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/contentforge/contentforge/internal/model"
)

// PageScanner fetches competing pages and extracts title, heading
// outline and word count for the competitor analysis stage.
type PageScanner struct {
	client *http.Client
}

var _ CompetitorScanner = (*PageScanner)(nil)

// NewPageScanner wires an HTTP client; timeout defaults to 20s.
func NewPageScanner(client *http.Client) *PageScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PageScanner{client: client}
}

// Scan downloads the page and summarizes its structure.
func (s *PageScanner) Scan(ctx context.Context, pageURL string) (model.CompetitorInsight, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return model.CompetitorInsight{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "contentforge/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return model.CompetitorInsight{}, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.CompetitorInsight{}, classifyStatus(resp.StatusCode,
			fmt.Errorf("competitor page %s returned %s", pageURL, resp.Status))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return model.CompetitorInsight{}, &TransientError{Err: fmt.Errorf("parse page: %w", err)}
	}

	insight := model.CompetitorInsight{
		URL:   pageURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		insight.Headings = append(insight.Headings, text)
	})
	insight.HeadingCount = len(insight.Headings)

	// Strip script/style before counting body words.
	doc.Find("script, style, noscript").Remove()
	insight.WordCount = len(strings.Fields(doc.Find("body").Text()))

	return insight, nil
}
