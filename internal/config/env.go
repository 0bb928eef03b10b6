package config

import (
	"os"
	"regexp"
	"strings"
)

var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references. Bare $VAR is left alone so CSS
// selectors and cron strings pass through untouched.
func expandEnv(b []byte) []byte {
	return reEnvRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := string(reEnvRef.FindSubmatch(m)[1])
		return []byte(os.Getenv(name))
	})
}

// applyEnvDefaults fills empty secrets from the conventional variables.
func applyEnvDefaults(c *Config) {
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = strings.TrimSpace(os.Getenv(key))
		}
	}
	fill(&c.Sources.NewsAPI.APIKey, "NEWS_API_KEY")
	fill(&c.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	fill(&c.Channels.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	fill(&c.Channels.Discord.Token, "DISCORD_BOT_TOKEN")
	fill(&c.Channels.Discord.ChannelID, "DISCORD_CHANNEL_ID")
	fill(&c.Storage.DSN, "DATABASE_URL")
}
