package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/config"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.resolveConfigPath()

			cfg, err := config.Load(path, zap.NewNop())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "  system mode:  %s\n", cfg.HVAC.SystemMode)
			fmt.Fprintf(cmd.OutOrStdout(), "  temp sensor:  %s\n", cfg.HVAC.TempSensor)
			fmt.Fprintf(cmd.OutOrStdout(), "  units:        %d\n", len(cfg.HVAC.Entities))
			return nil
		},
	}
}
