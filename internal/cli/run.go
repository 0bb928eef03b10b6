package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsbot/internal/app"
)

var version = "dev"

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Validate channels and poll on schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if runOnce {
			rep, err := a.Once(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		return a.Run(ctx)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the config and probe every channel without polling",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Check(ctx); err != nil {
			return err
		}
		for _, t := range a.Targets() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (chat %s)\n", t.Name, t.ChatID)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "newsbot", version)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single tick and print its report")
}

func newApp() (*app.App, error) {
	cfgm, err := configManager()
	if err != nil {
		return nil, err
	}
	return app.New(cfgm)
}
