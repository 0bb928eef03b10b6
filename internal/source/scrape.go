package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const (
	DefaultScrapeURL      = "https://thehackernews.com/"
	DefaultScrapeSelector = ".blog-post .title a"
	DefaultScrapeSource   = "The Hacker News"
	DefaultUserAgent      = "newsbot/1.0 (+https://github.com/newsbot)"
)

// ErrDisallowed is returned when robots.txt forbids the page.
var ErrDisallowed = errors.New("source: disallowed by robots.txt")

// HTMLScraper extracts anchors from a listing page. Every entry gets the
// configured source label and the collection time as its published time.
type HTMLScraper struct {
	Selector   string
	SourceName string
	UserAgent  string
	Client     *http.Client
	Robots     *RobotsChecker // nil disables the robots.txt check

	limiter *rate.Limiter
	now     func() time.Time
}

func NewHTMLScraper(selector, sourceName, userAgent string, timeout time.Duration, respectRobots bool) *HTMLScraper {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultScrapeSelector
	}
	if strings.TrimSpace(sourceName) == "" {
		sourceName = DefaultScrapeSource
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &HTMLScraper{
		Selector:   selector,
		SourceName: sourceName,
		UserAgent:  userAgent,
		Client:     &http.Client{Timeout: timeout},
		// one page fetch every 5s at most; a tick normally needs one.
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		now:     time.Now,
	}
	if respectRobots {
		s.Robots = NewRobotsChecker(userAgent, timeout)
	}
	return s
}

func (s *HTMLScraper) Scrape(ctx context.Context, pageURL string, limit int) ([]RawEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("scrape url: %w", err)
	}
	if s.Robots != nil {
		ok, err := s.Robots.Allowed(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDisallowed
		}
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.UserAgent)
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape: unexpected status %d", resp.StatusCode)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("scrape charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("scrape parse: %w", err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	published := now().UTC().Format(time.RFC3339)

	out := make([]RawEntry, 0, limit)
	doc.Find(s.Selector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if len(out) >= limit {
			return false
		}
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		out = append(out, RawEntry{
			Title:       strings.Join(strings.Fields(a.Text()), " "),
			URL:         resolveURL(base, href),
			Source:      s.SourceName,
			PublishedAt: published,
		})
		return true
	})
	return out, nil
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
