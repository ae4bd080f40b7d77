package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarryline/quarryline/internal/platform/db"
)

func newMigrateCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if err := deps.Migrate(cmd, cfg.PGDSN, false); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied state of every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			return deps.Migrate(cmd, cfg.PGDSN, true)
		},
	})
	return cmd
}

func runMigrate(cmd *cobra.Command, dsn string, status bool) error {
	if status {
		return db.MigrationStatus(cmd.Context(), dsn)
	}
	return db.Migrate(cmd.Context(), dsn)
}
