// Package news holds the item model shared by sources, channels and the ledger.
package news

import "strings"

// Item is a discovered news entry. URL is its identity.
type Item struct {
	URL         string
	Title       string
	Source      string
	PublishedAt string // opaque; ISO-8601 or whatever the source reports
}

// Valid reports whether every field is present.
func (it Item) Valid() bool {
	return strings.TrimSpace(it.URL) != "" &&
		strings.TrimSpace(it.Title) != "" &&
		strings.TrimSpace(it.Source) != "" &&
		strings.TrimSpace(it.PublishedAt) != ""
}

// Normalize trims surrounding whitespace from every field.
func (it Item) Normalize() Item {
	return Item{
		URL:         strings.TrimSpace(it.URL),
		Title:       strings.TrimSpace(it.Title),
		Source:      strings.TrimSpace(it.Source),
		PublishedAt: strings.TrimSpace(it.PublishedAt),
	}
}
