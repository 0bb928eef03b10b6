// Package cli holds the newsbot command tree.
package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"newsbot/internal/config"
)

const defaultConfigPath = "config.yaml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "newsbot",
	Short: "Poll security news and broadcast new items to Telegram and Discord",
	Long: `newsbot polls a news search API (with a scrape or RSS fallback), skips
items already recorded in its ledger, sends the rest to every configured
channel and records each item once every channel was attempted.

Configuration is read from a YAML or JSON file. Secrets can stay in the
environment: ${VAR} references are expanded and NEWS_API_KEY,
TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID, DISCORD_BOT_TOKEN, DISCORD_CHANNEL_ID
and DATABASE_URL fill empty fields.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml when present, else environment only)")
	rootCmd.AddCommand(runCmd, checkCmd, ledgerCmd, versionCmd)
}

// configManager resolves --config. Without the flag, ./config.yaml is used
// when it exists and the environment alone otherwise.
func configManager() (*config.ConfigManager, error) {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return config.NewConfigManager(path), nil
}
