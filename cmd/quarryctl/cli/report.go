package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quarryline/quarryline/internal/app"
	"github.com/quarryline/quarryline/internal/dispatch"
	dispatchexport "github.com/quarryline/quarryline/internal/dispatch/export"
	"github.com/quarryline/quarryline/internal/platform/db"
)

// ReportRenderer renders a delivery's traceability report.
type ReportRenderer interface {
	Render(ctx context.Context, deliveryID int64, format string) (dispatchexport.Rendered, error)
}

func newReportCommand(deps Deps) *cobra.Command {
	var (
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "report <delivery-id>",
		Short: "Render a delivered delivery's traceability report to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid delivery id %q", args[0])
			}
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg)
			renderer, closeFn, err := deps.Reports(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()
			path, err := writeReport(cmd.Context(), renderer, id, format, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", dispatchexport.FormatPDF, "pdf or html")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}

func writeReport(ctx context.Context, renderer ReportRenderer, id int64, format, outDir string) (string, error) {
	out, err := renderer.Render(ctx, id, format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outDir, out.Filename)
	if err := os.WriteFile(path, out.Body, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// openReports renders straight from the database; the report cache is skipped.
func openReports(cmd *cobra.Command, cfg *app.Config, logger *slog.Logger) (ReportRenderer, func(), error) {
	pool, err := db.New(cmd.Context(), cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	engine := dispatch.NewService(dispatch.NewRepository(pool), nil, logger, app.DispatchConfig(cfg))
	reports := app.NewReports(engine, app.NewGotenberg(cfg), nil, cfg, logger)
	return reports, pool.Close, nil
}
