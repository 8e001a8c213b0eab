package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: tracker %q with %d subscription(s)\n",
				cfg.GetTrackerName(), len(cfg.Subscriptions))
			return err
		},
	}

	cmd.Flags().String(flagConfig, "", "Path to configuration file (YAML format, required)")
	bindFlags(cmd, v, flagConfig)

	return cmd
}
