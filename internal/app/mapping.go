package app

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"newsbot/internal/bootstrap"
	"newsbot/internal/channel"
	"newsbot/internal/config"
	"newsbot/internal/dispatch"
	"newsbot/internal/ledger"
	"newsbot/internal/scheduler"
	"newsbot/internal/source"
	logx "newsbot/pkg/logx"
)

const (
	defaultLimit      = 10
	defaultLedgerPath = "data/news.db"
	defaultJournal    = "data/news.jsonl"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

// MapLedger converts the storage section. Relative paths stay relative to
// the working directory.
func MapLedger(cfg *config.Config) ledger.Config {
	s := cfg.Storage
	out := ledger.Config{
		Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:        strings.TrimSpace(s.Path),
		DSN:         strings.TrimSpace(s.DSN),
		BusyTimeout: config.Duration(s.BusyTimeout, 0),
	}
	if out.Path == "" {
		out.Path = defaultLedgerPath
		if out.Driver == "file" {
			out.Path = defaultJournal
		}
	}
	return out
}

func mapDispatch(cfg *config.Config) dispatch.Config {
	d := cfg.Dispatch
	return dispatch.Config{
		Attempts:    d.Attempts,
		RetryDelay:  config.Duration(d.RetryDelay, 0),
		SendTimeout: config.Duration(d.SendTimeout, 0),
		RatePerSec:  d.RatePerSec,
	}
}

func mapValidator(cfg *config.Config, log logx.Logger) bootstrap.Validator {
	return bootstrap.Validator{
		ProbeTimeout: config.Duration(cfg.Dispatch.ProbeTimeout, bootstrap.DefaultProbeTimeout),
		Log:          log,
	}
}

// mapLoop returns the schedule and the item delay. An item_delay of "0"
// disables the pause; an empty value keeps the default.
func mapLoop(cfg *config.Config) (scheduler.Schedule, time.Duration, error) {
	sched, err := scheduler.ParseSchedule(cfg.Loop.Schedule)
	if err != nil {
		return nil, 0, fmt.Errorf("loop.schedule: %w", err)
	}
	raw := strings.TrimSpace(cfg.Loop.ItemDelay)
	if raw == "" {
		return sched, scheduler.DefaultItemDelay, nil
	}
	d, err := config.ParseDurationField("loop.item_delay", raw)
	if err != nil {
		return nil, 0, err
	}
	if d == 0 {
		d = -1
	}
	return sched, d, nil
}

func buildSources(cfg *config.Config, log logx.Logger) *source.Aggregator {
	s := cfg.Sources
	limit := s.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	query := strings.TrimSpace(s.Query)
	if query == "" {
		query = source.DefaultQuery
	}

	var primary source.Provider
	if key := strings.TrimSpace(s.NewsAPI.APIKey); key != "" {
		api := source.NewNewsAPI(s.NewsAPI.Endpoint, key, s.NewsAPI.Language, config.Duration(s.NewsAPI.Timeout, 0))
		primary = source.SearchProvider{Label: "newsapi", Searcher: api, Query: query, Limit: limit}
	} else {
		log.Warn("newsapi key not set; only the fallback source will be used")
	}

	fb := s.Fallback
	timeout := config.Duration(fb.Timeout, 0)
	var fallback source.Provider
	switch strings.ToLower(strings.TrimSpace(fb.Kind)) {
	case "none":
	case "rss":
		reader := source.NewFeedReader(fb.SourceName, fb.UserAgent, timeout)
		fallback = source.ScrapeProvider{Label: "rss", Scraper: reader, URL: fb.URL, Limit: limit}
	default:
		pageURL := strings.TrimSpace(fb.URL)
		if pageURL == "" {
			pageURL = source.DefaultScrapeURL
		}
		scraper := source.NewHTMLScraper(fb.Selector, fb.SourceName, fb.UserAgent, timeout, fb.Robots())
		fallback = source.ScrapeProvider{Label: "scrape", Scraper: scraper, URL: pageURL, Limit: limit}
	}
	return source.NewAggregator(primary, fallback, log)
}

// buildTargets creates one target per enabled channel, telegram first.
func buildTargets(cfg *config.Config, log logx.Logger) ([]channel.Target, error) {
	var targets []channel.Target
	send := config.Duration(cfg.Dispatch.SendTimeout, dispatch.DefaultSendTimeout)

	if tg := cfg.Channels.Telegram; tg.Enabled {
		c, err := channel.NewTelegram(tg.Token, channel.TelegramOptions{APIURL: tg.APIURL, Timeout: send}, log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		targets = append(targets, channel.Target{Name: "telegram", ChatID: strings.TrimSpace(tg.ChatID), Client: c, Render: channel.RenderHTML})
	}
	if dc := cfg.Channels.Discord; dc.Enabled {
		c, err := channel.NewDiscord(dc.Token, send, log)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		targets = append(targets, channel.Target{Name: "discord", ChatID: strings.TrimSpace(dc.ChannelID), Client: c, Render: channel.RenderMarkdown})
	}
	return targets, nil
}

// alertTarget picks the channel that receives log alerts. The first target
// is used when none is named.
func alertTarget(cfg *config.Config, targets []channel.Target) (logx.Sender, string, bool) {
	a := cfg.Logging.Alerts
	if !a.Enabled || len(targets) == 0 {
		return nil, "", false
	}
	want := strings.ToLower(strings.TrimSpace(a.Channel))
	for _, t := range targets {
		if want != "" && t.Name != want {
			continue
		}
		chat := strings.TrimSpace(a.ChatID)
		if chat == "" {
			chat = t.ChatID
		}
		var s logx.Sender = t.Client
		if t.Name == "telegram" {
			s = htmlSender{t.Client}
		}
		return s, chat, true
	}
	return nil, "", false
}

// htmlSender escapes alert text for clients that send with HTML parse mode.
type htmlSender struct{ c channel.Client }

func (h htmlSender) Send(ctx context.Context, chatID, text string) error {
	return h.c.Send(ctx, chatID, html.EscapeString(text))
}
