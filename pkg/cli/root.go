// Package cli wires configuration, storage and services into the mixdb command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/config"
)

// NewRootCommand creates the mixdb root command with all subcommands attached.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}

	rootCmd := &cobra.Command{
		Use:           "mixdb",
		Short:         "Concrete mix database loader and material canonicalizer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Print reports as JSON")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.init()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		a.close()
	}

	rootCmd.AddCommand(
		migrateCommand(a),
		importCommand(a),
		canonicalizeCommand(a),
		purgeCommand(a),
		readOnlyCommand(a),
	)

	return rootCmd
}
