package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedReader reads an RSS or Atom feed. Entries without a published or
// updated timestamp are dropped downstream as invalid.
type FeedReader struct {
	SourceName string // overrides the feed title when set
	parser     *gofeed.Parser
}

func NewFeedReader(sourceName, userAgent string, timeout time.Duration) *FeedReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	if strings.TrimSpace(userAgent) != "" {
		p.UserAgent = userAgent
	}
	return &FeedReader{SourceName: sourceName, parser: p}
}

func (f *FeedReader) Scrape(ctx context.Context, feedURL string, limit int) ([]RawEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedURL, err)
	}

	name := strings.TrimSpace(f.SourceName)
	if name == "" {
		name = strings.TrimSpace(feed.Title)
	}

	out := make([]RawEntry, 0, min(limit, len(feed.Items)))
	for _, it := range feed.Items {
		if len(out) >= limit {
			break
		}
		if it == nil {
			continue
		}
		published := it.Published
		if strings.TrimSpace(published) == "" {
			published = it.Updated
		}
		out = append(out, RawEntry{
			Title:       it.Title,
			URL:         it.Link,
			Source:      name,
			PublishedAt: published,
		})
	}
	return out, nil
}
