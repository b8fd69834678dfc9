package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/weft/internal/ui"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the parsed host version and the metadata backend it selects",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	printer := ui.New(cmd.OutOrStdout(), cfg.Root, cfg.Verbose)
	sel, err := selectBackend(cfg, printer)
	if err != nil {
		return err
	}
	printer.Selection(sel)
	return nil
}
