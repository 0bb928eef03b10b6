package config

import (
	"reflect"
	"strings"

	logx "newsbot/pkg/logx"
)

// ConfigChange describes a reload. Attrs never include secrets.
type ConfigChange struct {
	// Applied lists sections the running process picks up (logging, loop, dispatch).
	Applied []string
	// NeedsRestart lists sections only read at startup (sources, channels, storage, systemd).
	NeedsRestart []string
	Attrs        []logx.Field
}

func (c ConfigChange) Empty() bool { return len(c.Applied) == 0 && len(c.NeedsRestart) == 0 }

func SummarizeConfigChange(oldCfg, newCfg *Config) ConfigChange {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch ConfigChange

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Applied = append(ch.Applied, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}
	if oldCfg.Loop != newCfg.Loop {
		ch.Applied = append(ch.Applied, "loop")
		ch.Attrs = append(ch.Attrs,
			logx.String("loop.schedule", strings.TrimSpace(newCfg.Loop.Schedule)),
			logx.String("loop.item_delay", strings.TrimSpace(newCfg.Loop.ItemDelay)),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		ch.Applied = append(ch.Applied, "dispatch")
		ch.Attrs = append(ch.Attrs,
			logx.Int("dispatch.attempts", newCfg.Dispatch.Attempts),
			logx.String("dispatch.retry_delay", newCfg.Dispatch.RetryDelay),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		ch.NeedsRestart = append(ch.NeedsRestart, "sources")
		ch.Attrs = append(ch.Attrs,
			logx.String("sources.fallback.kind", newCfg.Sources.Fallback.Kind),
			logx.Bool("sources.newsapi.key_set", strings.TrimSpace(newCfg.Sources.NewsAPI.APIKey) != ""),
		)
	}
	if oldCfg.Channels != newCfg.Channels {
		ch.NeedsRestart = append(ch.NeedsRestart, "channels")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("channels.telegram.enabled", newCfg.Channels.Telegram.Enabled),
			logx.Bool("channels.discord.enabled", newCfg.Channels.Discord.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		ch.NeedsRestart = append(ch.NeedsRestart, "storage")
		ch.Attrs = append(ch.Attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Systemd, newCfg.Systemd) {
		ch.NeedsRestart = append(ch.NeedsRestart, "systemd")
	}
	return ch
}
