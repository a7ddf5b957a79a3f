package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Run the usage counter jobs",
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset monthly counters that are due",
	Long: `Zero the monthly bandwidth and upload counters of every storage
account and organization whose last reset is more than a month old.
Counters reset within the last month are left alone, so running this
twice is harmless.`,
	RunE: runUsageReset,
}

var usageReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare local storage counters with provider reports",
	Long: `Ask every enabled storage account's provider for its usage and
print the difference to the local counters. Nothing is written.`,
	RunE: runUsageReconcile,
}

func init() {
	usageCmd.AddCommand(usageResetCmd)
	usageCmd.AddCommand(usageReconcileCmd)

	rootCmd.AddCommand(usageCmd)
}

func runUsageReset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		report, err := a.jobs.ResetMonthly(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if done, err := printStructured(out, report); done {
			return err
		}
		fmt.Fprintf(out, "Reset %d storage accounts and %d organizations\n", report.Accounts, report.Organizations)
		return nil
	})
}

func runUsageReconcile(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		drifts, reconcileErr := a.jobs.Reconcile(ctx)
		out := cmd.OutOrStdout()

		if done, err := printStructured(out, drifts); done {
			if err != nil {
				return err
			}
			return reconcileErr
		}

		w := newTable(out)
		printTableHeader(w, "ACCOUNT", "PROVIDER", "LOCAL", "REMOTE", "DRIFT")
		for _, d := range drifts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				d.Account, d.Provider,
				humanize.IBytes(uint64(d.LocalStorage)),
				humanize.IBytes(uint64(d.RemoteStorage)),
				formatDrift(d.Drift),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return reconcileErr
	})
}

// formatDrift renders a signed byte difference.
func formatDrift(d int64) string {
	switch {
	case d > 0:
		return "+" + humanize.IBytes(uint64(d))
	case d < 0:
		return "-" + humanize.IBytes(uint64(-d))
	default:
		return "0 B"
	}
}
