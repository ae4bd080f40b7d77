package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarryline/quarryline/jobs"
)

func newJobsCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	var opts TriggerOptions
	trigger := &cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a job now",
		Long:      "Enqueue one of: " + jobs.TaskInvoiceBackfill + ", " + jobs.TaskInvoiceAging + ", " + jobs.TaskReportPrerender + ".",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskInvoiceBackfill, jobs.TaskInvoiceAging, jobs.TaskReportPrerender},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			c := deps.Jobs(cfg)
			defer func() { _ = c.Close() }()
			info, err := c.Trigger(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().IntVar(&opts.Limit, "limit", 0, "batch size for sweep jobs")
	trigger.Flags().Int64Var(&opts.DeliveryID, "delivery", 0, "delivery id for "+jobs.TaskReportPrerender)

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print default queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			c := deps.Jobs(cfg)
			defer func() { _ = c.Close() }()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}
