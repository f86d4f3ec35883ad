package stages

import (
	"context"
	"fmt"
	"strings"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
)

// ArticleFetcher retrieves and extracts an article.
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) (models.Article, error)
}

// Scrape turns inline content or a source URL into an Article.
type Scrape struct {
	base
	fetcher ArticleFetcher
}

func NewScrape(fetcher ArticleFetcher, rates cost.Rates) *Scrape {
	return &Scrape{base: base{rates: rates}, fetcher: fetcher}
}

func (s *Scrape) Stage() models.Stage { return models.StageScrape }

// Project is zero for inline content, which is never fetched.
func (s *Scrape) Project(payload models.Payload, _ Meta) float64 {
	if strings.TrimSpace(payload.RawContent) != "" {
		return 0
	}
	return s.rates.Scrape()
}

func (s *Scrape) Execute(ctx context.Context, payload models.Payload, meta Meta) (Result, error) {
	if text := strings.TrimSpace(payload.RawContent); text != "" {
		payload.Article = &models.Article{Title: meta.Title, Text: text, URL: meta.SourceURL}
		return Result{Payload: payload, Notes: []string{"used inline content"}}, nil
	}
	if meta.SourceURL == "" {
		return Result{}, fmt.Errorf("%w: no content or source url", ErrMissingInput)
	}
	if s.fetcher == nil {
		return Result{}, fmt.Errorf("%w: no fetcher configured for %s", ErrMissingInput, meta.SourceURL)
	}
	article, err := s.fetcher.Fetch(ctx, meta.SourceURL)
	if err != nil {
		return Result{}, err
	}
	if article.Title == "" {
		article.Title = meta.Title
	}
	payload.Article = &article
	return Result{Payload: payload, Cost: s.rates.Scrape()}, nil
}
