package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"episode-generator/internal/models"
	"episode-generator/internal/providers"
)

const userAgent = "episode-generator/1.0 (+https://github.com/episode-generator)"

// ErrNoContent is returned when a page yields no article text.
var ErrNoContent = errors.New("no article text extracted")

// Fetcher downloads a page and extracts the article.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewFetcher builds a fetcher with the given timeout and body limit.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &Fetcher{httpClient: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Fetch retrieves pageURL and returns the extracted article.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (models.Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return models.Article{}, fmt.Errorf("invalid article url %q", pageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return models.Article{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return models.Article{}, fmt.Errorf("fetch article: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse("scrape", resp); err != nil {
		return models.Article{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return models.Article{}, fmt.Errorf("read article: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return models.Article{}, fmt.Errorf("article too large (>%d bytes)", f.maxBytes)
	}
	return Extract(body, parsed)
}

// Extract pulls title, byline, lead image and text out of an HTML document.
// Readability is tried first; paragraph text from goquery is the fallback.
func Extract(body []byte, pageURL *url.URL) (models.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.Article{}, fmt.Errorf("parse html: %w", err)
	}
	art := models.Article{
		Title:    pageTitle(doc),
		Byline:   metaContent(doc, "meta[name='author']", "meta[property='article:author']"),
		ImageURL: resolve(pageURL, metaContent(doc, "meta[property='og:image']", "meta[name='twitter:image']")),
		URL:      pageURL.String(),
	}

	if parsed, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		if t := strings.TrimSpace(parsed.Title); t != "" {
			art.Title = t
		}
		art.Text = strings.TrimSpace(parsed.TextContent)
	}
	if art.Text == "" {
		art.Text = paragraphText(doc)
	}
	if art.Text == "" {
		return art, ErrNoContent
	}
	return art, nil
}

func pageTitle(doc *goquery.Document) string {
	if og := metaContent(doc, "meta[property='og:title']"); og != "" {
		return og
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func paragraphText(doc *goquery.Document) string {
	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	var parts []string
	root.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
