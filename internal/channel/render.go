package channel

import (
	"fmt"
	"html"
	"strings"

	"newsbot/internal/news"
)

// RenderPlain is the markup-free layout shared by every renderer.
func RenderPlain(it news.Item) string {
	return fmt.Sprintf("📰 %s\nSource: %s\n%s", it.Title, it.Source, it.URL)
}

// RenderHTML renders for Telegram's HTML parse mode.
func RenderHTML(it news.Item) string {
	return fmt.Sprintf("📰 <b>%s</b>\nSource: %s\n%s",
		html.EscapeString(it.Title),
		html.EscapeString(it.Source),
		link(it.URL),
	)
}

func link(u string) string {
	e := html.EscapeString(u)
	return `<a href="` + e + `">` + e + `</a>`
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`~`, `\~`,
	`|`, `\|`,
)

// RenderMarkdown renders for Discord markdown. The url is left bare so
// Discord unfurls it.
func RenderMarkdown(it news.Item) string {
	return fmt.Sprintf("📰 **%s**\nSource: %s\n%s",
		mdEscaper.Replace(it.Title),
		mdEscaper.Replace(it.Source),
		it.URL,
	)
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, for HTML, not cutting inside a tag.
func splitText(s string, limit int, isHTML bool) []string {
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if isHTML && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
