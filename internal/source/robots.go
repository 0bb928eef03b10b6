package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

const robotsTTL = 6 * time.Hour

// RobotsChecker answers robots.txt questions, caching the parsed file per host.
type RobotsChecker struct {
	cache      *gocache.Cache
	httpClient *http.Client
	userAgent  string
}

func NewRobotsChecker(userAgent string, timeout time.Duration) *RobotsChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsChecker{
		cache:      gocache.New(robotsTTL, 30*time.Minute),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// Allowed reports whether rawURL may be fetched. An unreachable robots.txt
// allows the fetch.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}
	data, err := r.robots(ctx, parsed)
	if err != nil {
		return true, nil
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, agentToken(r.userAgent)), nil
}

func (r *RobotsChecker) robots(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	key := u.Scheme + "://" + u.Host
	if v, ok := r.cache.Get(key); ok {
		return v.(*robotstxt.RobotsData), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	r.cache.SetDefault(key, data)
	return data, nil
}

// agentToken reduces "Name/1.0 (+url)" to "Name" for group matching.
func agentToken(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) == 0 {
		return ua
	}
	return strings.Split(parts[0], "/")[0]
}
