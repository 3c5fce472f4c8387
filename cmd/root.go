package main

import (
	"os"

	"github.com/okian/trackpick/internal/config"
	"github.com/spf13/cobra"
)

// newRootCmd builds the trackpick command tree. Running the bare command
// serves the API.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "trackpick",
		Short:         "trackpick picks and dispatches the best download source for requested tracks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv(config.EnvConfig, configPath)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides "+config.EnvConfig+")")

	root.AddCommand(newServeCmd(), newSimulateCmd())
	return root
}
