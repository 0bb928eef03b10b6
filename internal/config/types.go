package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the on-disk configuration (YAML or JSON). Durations are Go
// duration strings.
type Config struct {
	Sources  SourcesConfig  `json:"sources"`
	Channels ChannelsConfig `json:"channels"`
	Dispatch DispatchConfig `json:"dispatch"`
	Loop     LoopConfig     `json:"loop"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Systemd  SystemdConfig  `json:"systemd"`
}

type SourcesConfig struct {
	Query    string         `json:"query,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	NewsAPI  NewsAPIConfig  `json:"newsapi"`
	Fallback FallbackConfig `json:"fallback"`
}

type NewsAPIConfig struct {
	APIKey   string `json:"api_key,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Language string `json:"language,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// FallbackConfig selects the secondary source.
//
// Kind:
//   - "scrape" (default): HTML listing page, anchors picked by Selector
//   - "rss": RSS/Atom feed
//   - "none": no fallback
type FallbackConfig struct {
	Kind          string `json:"kind,omitempty"`
	URL           string `json:"url,omitempty"`
	Selector      string `json:"selector,omitempty"`
	SourceName    string `json:"source_name,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	RespectRobots *bool  `json:"respect_robots,omitempty"` // default true
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	APIURL  string `json:"api_url,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

type DispatchConfig struct {
	Attempts     int     `json:"attempts,omitempty"`
	RetryDelay   string  `json:"retry_delay,omitempty"`
	SendTimeout  string  `json:"send_timeout,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	ProbeTimeout string  `json:"probe_timeout,omitempty"`
}

type LoopConfig struct {
	// Schedule is an interval ("1h", "3600", "01:00") or a cron expression.
	Schedule  string `json:"schedule,omitempty"`
	ItemDelay string `json:"item_delay,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite|postgres|file
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warnings/errors to one of the broadcast channels.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	Channel    string `json:"channel,omitempty"` // telegram|discord
	ChatID     string `json:"chat_id,omitempty"` // defaults to the channel's broadcast chat
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SystemdConfig struct {
	Notify *bool `json:"notify,omitempty"` // default true; no-op outside systemd
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{Enabled: true},
			Discord:  DiscordConfig{Enabled: true},
		},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// Robots reports the effective fallback robots.txt setting.
func (f FallbackConfig) Robots() bool { return f.RespectRobots == nil || *f.RespectRobots }

func (s SystemdConfig) Enabled() bool { return s.Notify == nil || *s.Notify }

// Validate checks what can be checked without network access.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	for path, raw := range map[string]string{
		"sources.newsapi.timeout":  c.Sources.NewsAPI.Timeout,
		"sources.fallback.timeout": c.Sources.Fallback.Timeout,
		"dispatch.retry_delay":     c.Dispatch.RetryDelay,
		"dispatch.send_timeout":    c.Dispatch.SendTimeout,
		"dispatch.probe_timeout":   c.Dispatch.ProbeTimeout,
		"loop.item_delay":          c.Loop.ItemDelay,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Sources.Limit < 0 {
		errs = append(errs, errors.New("sources.limit must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Sources.Fallback.Kind)) {
	case "", "scrape", "rss", "none":
	default:
		errs = append(errs, fmt.Errorf("sources.fallback.kind: unknown %q (scrape|rss|none)", c.Sources.Fallback.Kind))
	}
	if strings.EqualFold(c.Sources.Fallback.Kind, "rss") && strings.TrimSpace(c.Sources.Fallback.URL) == "" {
		errs = append(errs, errors.New("sources.fallback.url is required for kind rss"))
	}

	tg, dc := c.Channels.Telegram, c.Channels.Discord
	if !tg.Enabled && !dc.Enabled {
		errs = append(errs, errors.New("channels: at least one of telegram or discord must be enabled"))
	}
	if tg.Enabled && (strings.TrimSpace(tg.Token) == "" || strings.TrimSpace(tg.ChatID) == "") {
		errs = append(errs, errors.New("channels.telegram: token and chat_id are required (TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID)"))
	}
	if dc.Enabled && (strings.TrimSpace(dc.Token) == "" || strings.TrimSpace(dc.ChannelID) == "") {
		errs = append(errs, errors.New("channels.discord: token and channel_id are required (DISCORD_BOT_TOKEN, DISCORD_CHANNEL_ID)"))
	}

	if c.Dispatch.Attempts < 0 {
		errs = append(errs, errors.New("dispatch.attempts must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
	}

	if a := c.Logging.Alerts; a.Enabled {
		switch strings.ToLower(strings.TrimSpace(a.Channel)) {
		case "", "telegram", "discord":
		default:
			errs = append(errs, fmt.Errorf("logging.alerts.channel: unknown %q", a.Channel))
		}
	}
	return errors.Join(errs...)
}
