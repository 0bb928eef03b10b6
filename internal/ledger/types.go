package ledger

import (
	"context"
	"errors"
	"time"

	"newsbot/internal/news"
)

var (
	// ErrDuplicate is returned by Record when the url is already present.
	// It is a recoverable outcome: callers log it and move on.
	ErrDuplicate = errors.New("ledger: duplicate url")
	ErrClosed    = errors.New("ledger: closed")
)

// Config configures the ledger.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
//   - "file": append-only JSON Lines journal at Path
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one delivered item. Field names mirror the articles table.
type Record struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
}

// RecordOf converts an item to its ledger row.
func RecordOf(it news.Item) Record {
	return Record{URL: it.URL, Title: it.Title, Source: it.Source, PublishedAt: it.PublishedAt}
}

// Ledger is the persistence API used by the scheduler and operator commands.
type Ledger interface {
	Exists(ctx context.Context, url string) (bool, error)
	Record(ctx context.Context, r Record) error
	Count(ctx context.Context) (int64, error)
	Close() error
}
