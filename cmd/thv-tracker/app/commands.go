// Package app provides the command line of the ToolHive service tracker.
package app

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-service-tracker/internal/config"
)

// NewRootCmd creates the root command with its subcommands
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "thv-tracker",
		DisableAutoGenTag: true,
		Short:             "ToolHive service tracker",
		Long: `ToolHive service tracker keeps live subscriptions over a service registry
fed from files, Git repositories, HTTP documents and annotated Kubernetes
Services, and reports their membership over HTTP.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.AddCommand(newServeCmd(newViper()))
	rootCmd.AddCommand(newValidateCmd(newViper()))
	rootCmd.AddCommand(newStatusCmd(newViper()))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newViper reads flags bound by one command and THV_TRACKER_* variables.
// Each command owns its instance so flags of the same name do not collide.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}
