package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kaoskorobase/banga/pkg/config"
)

func newConfigCommand() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration banga would run with: the --config file on top of
the defaults, with BANGA_* environment overrides applied. The output is valid
input for --config.`,
		Example: `  # Start a config file from the defaults
  banga config --defaults > banga.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if !defaults {
				var err error
				if cfg, err = loadConfig(); err != nil {
					return err
				}
			}

			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(out); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "ignore --config and the environment")

	return cmd
}
