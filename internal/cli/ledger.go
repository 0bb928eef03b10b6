package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"newsbot/internal/app"
	"newsbot/internal/ledger"
	logx "newsbot/pkg/logx"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the dedup ledger",
}

var ledgerCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of recorded urls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedger()
		if err != nil {
			return err
		}
		defer led.Close()
		n, err := led.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var ledgerHasCmd = &cobra.Command{
	Use:   "has <url>",
	Short: "Report whether a url was already broadcast",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedger()
		if err != nil {
			return err
		}
		defer led.Close()
		url := strings.TrimSpace(args[0])
		ok, err := led.Exists(cmd.Context(), url)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: not recorded", url)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "recorded")
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerCountCmd, ledgerHasCmd)
}

// openLedger reads only the storage section, so channel credentials are
// not required.
func openLedger() (ledger.Ledger, error) {
	cfgm, err := configManager()
	if err != nil {
		return nil, err
	}
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	return ledger.Open(app.MapLedger(cfg), logx.NewConsole("warn"))
}
