package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultNewsAPIEndpoint = "https://newsapi.org/v2/everything"
	DefaultQuery           = "cybersecurity OR hacking OR data breach OR malware"

	removedPlaceholder = "[Removed]"
)

// NewsAPI queries the newsapi.org "everything" endpoint.
type NewsAPI struct {
	Endpoint string
	APIKey   string
	Language string
	Client   *http.Client
}

func NewNewsAPI(endpoint, apiKey, language string, timeout time.Duration) *NewsAPI {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultNewsAPIEndpoint
	}
	if strings.TrimSpace(language) == "" {
		language = "en"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NewsAPI{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Language: language,
		Client:   &http.Client{Timeout: timeout},
	}
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func (n *NewsAPI) Search(ctx context.Context, query string, limit int) ([]RawEntry, error) {
	if strings.TrimSpace(n.APIKey) == "" {
		return nil, errors.New("newsapi: api key not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	u, err := url.Parse(n.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("newsapi endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("language", n.Language)
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", n.APIKey)
	req.Header.Set("Accept", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("newsapi read: %w", err)
	}

	var out newsAPIResponse
	decErr := json.Unmarshal(body, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decErr == nil && out.Message != "" {
			return nil, fmt.Errorf("newsapi: status %d: %s (%s)", resp.StatusCode, out.Message, out.Code)
		}
		return nil, fmt.Errorf("newsapi: status %d", resp.StatusCode)
	}
	if decErr != nil {
		return nil, fmt.Errorf("newsapi decode: %w", decErr)
	}
	if out.Status == "error" {
		return nil, fmt.Errorf("newsapi: %s (%s)", out.Message, out.Code)
	}

	entries := make([]RawEntry, 0, len(out.Articles))
	for _, a := range out.Articles {
		if a.Title == removedPlaceholder || a.URL == "" || strings.Contains(a.URL, "removed.com") {
			continue
		}
		entries = append(entries, RawEntry{
			Title:       a.Title,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
		})
		if len(entries) >= limit {
			break
		}
	}
	return entries, nil
}
