package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
)

func migrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database(cmd.Context())
			if err != nil {
				return err
			}
			return database.RunMigrations(db.SQLDB(), a.logger)
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database(cmd.Context())
			if err != nil {
				return err
			}
			return database.RollbackMigrations(db.SQLDB(), a.logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database(cmd.Context())
			if err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(db.SQLDB(), a.logger)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{"version": version, "dirty": dirty})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
			return err
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}
