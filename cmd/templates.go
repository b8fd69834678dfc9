package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/weft/internal/registry"
	"github.com/papapumpkin/weft/internal/ui"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List discovered templates, their outputs and match rules",
	Args:  cobra.NoArgs,
	RunE:  runTemplates,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}

func runTemplates(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	printer := ui.New(cmd.OutOrStdout(), cfg.Root, cfg.Verbose)

	reg, err := registry.New(cfg.Root,
		registry.WithExtension(cfg.Templates.Extension),
		registry.WithIgnore(cfg.Watch.Ignore...),
	)
	if err != nil {
		return err
	}
	if _, err := reg.ResetAll(); err != nil {
		return err
	}
	printer.Templates(reg.All())
	return nil
}
