// Package cli implements the quarryctl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quarryline/quarryline/internal/app"
)

// Deps lets tests replace the collaborators the commands build from configuration.
type Deps struct {
	LoadConfig func() (*app.Config, error)
	Jobs       func(cfg *app.Config) *JobsCLI
	Reports    func(cmd *cobra.Command, cfg *app.Config, logger *slog.Logger) (ReportRenderer, func(), error)
	Migrate    func(cmd *cobra.Command, dsn string, status bool) error
}

// DefaultDeps wires the production collaborators.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig: app.LoadConfig,
		Jobs:       func(cfg *app.Config) *JobsCLI { return NewJobsCLI(cfg.RedisAddr) },
		Reports:    openReports,
		Migrate:    runMigrate,
	}
}

// NewRootCommand assembles quarryctl.
func NewRootCommand(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "quarryctl",
		Short:         "Quarryline operator tooling",
		Long:          "Operator commands for the Quarryline dispatch service: schema migrations, background jobs and traceability reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCommand(deps),
		newJobsCommand(deps),
		newReportCommand(deps),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
