// Package source fetches candidate news items from the primary search API and,
// when that yields nothing, from a single fallback page or feed.
package source

import (
	"context"

	"newsbot/internal/news"
)

// RawEntry is what a provider returns before validation.
type RawEntry struct {
	Title       string
	URL         string
	Source      string
	PublishedAt string
}

// Item converts the entry to a normalized news item.
func (e RawEntry) Item() news.Item {
	return news.Item{URL: e.URL, Title: e.Title, Source: e.Source, PublishedAt: e.PublishedAt}.Normalize()
}

// Searcher runs a keyword query against a search API.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]RawEntry, error)
}

// Scraper extracts entries from a single page or feed.
type Scraper interface {
	Scrape(ctx context.Context, url string, limit int) ([]RawEntry, error)
}

// Provider is a contract bound to its configured target.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) ([]RawEntry, error)
}

// SearchProvider binds a Searcher to a query.
type SearchProvider struct {
	Label    string
	Searcher Searcher
	Query    string
	Limit    int
}

func (p SearchProvider) Name() string { return p.Label }

func (p SearchProvider) Fetch(ctx context.Context) ([]RawEntry, error) {
	return p.Searcher.Search(ctx, p.Query, p.Limit)
}

// ScrapeProvider binds a Scraper to a url.
type ScrapeProvider struct {
	Label   string
	Scraper Scraper
	URL     string
	Limit   int
}

func (p ScrapeProvider) Name() string { return p.Label }

func (p ScrapeProvider) Fetch(ctx context.Context) ([]RawEntry, error) {
	return p.Scraper.Scrape(ctx, p.URL, p.Limit)
}
