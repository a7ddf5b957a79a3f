package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/service"
)

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Change organization plans and billing status",
	Long: `Billing administration.

Examples:
  mediactl billing show 6f1c...
  mediactl billing set-plan 6f1c... professional --cycle yearly
  mediactl billing suspend 6f1c... --actor 91aa... --note "chargeback"
  mediactl billing reactivate 6f1c... --actor 91aa...`,
}

var billingShowCmd = &cobra.Command{
	Use:   "show <org-id>",
	Short: "Show an organization's plan and usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runBillingShow,
}

var billingSetPlanCmd = &cobra.Command{
	Use:   "set-plan <org-id> <plan>",
	Short: "Move an organization to another plan",
	Args:  cobra.ExactArgs(2),
	RunE:  runBillingSetPlan,
}

var billingSuspendCmd = newStatusCmd("suspend", "Suspend an organization's uploads")
var billingCancelCmd = newStatusCmd("cancel", "Cancel an organization's subscription")
var billingReactivateCmd = newStatusCmd("reactivate", "Reactivate a suspended or cancelled organization")

func init() {
	billingSetPlanCmd.Flags().String("cycle", "", "billing cycle (monthly, yearly)")

	billingCmd.AddCommand(billingShowCmd)
	billingCmd.AddCommand(billingSetPlanCmd)
	billingCmd.AddCommand(billingSuspendCmd)
	billingCmd.AddCommand(billingCancelCmd)
	billingCmd.AddCommand(billingReactivateCmd)

	rootCmd.AddCommand(billingCmd)
}

func newStatusCmd(action, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   action + " <org-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBillingStatus(cmd, args[0], action)
		},
	}
	c.Flags().String("actor", "", "ID of the user approving the change (required)")
	c.Flags().String("note", "", "reason recorded with the change")
	c.MarkFlagRequired("actor")
	return c
}

func parseOrgID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid organization id %q", raw)
	}
	return id, nil
}

func runBillingShow(cmd *cobra.Command, args []string) error {
	orgID, err := parseOrgID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		summary, err := a.billing.GetUsageSummary(ctx, orgID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if done, err := printStructured(out, summary); done {
			return err
		}
		fmt.Fprintf(out, "Organization: %s\n", summary.OrgID)
		fmt.Fprintf(out, "Plan:         %s\n", summary.Plan)
		fmt.Fprintf(out, "Status:       %s\n", summary.Status)
		fmt.Fprintf(out, "Storage:      %s\n", formatUsage(humanize.IBytes(uint64(summary.StorageUsed)), humanize.IBytes(uint64(summary.StorageLimit)), summary.StorageLimit))
		fmt.Fprintf(out, "Uploads:      %s\n", formatUsage(humanize.Comma(summary.UploadsUsed), humanize.Comma(summary.UploadsLimit), summary.UploadsLimit))
		fmt.Fprintf(out, "Max file:     %s\n", humanize.IBytes(uint64(summary.MaxFileSize)))
		fmt.Fprintf(out, "Cycle start:  %s\n", summary.CycleStart.Format("2006-01-02 15:04:05"))
		return nil
	})
}

func runBillingSetPlan(cmd *cobra.Command, args []string) error {
	orgID, err := parseOrgID(args[0])
	if err != nil {
		return err
	}
	cycle, _ := cmd.Flags().GetString("cycle")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		b, err := a.billing.ChangePlan(ctx, orgID, service.ChangePlanRequest{
			Plan:         models.Plan(args[1]),
			BillingCycle: models.BillingCycle(cycle),
		})
		if err != nil {
			return err
		}
		return printBilling(cmd, b)
	})
}

func runBillingStatus(cmd *cobra.Command, rawOrg, action string) error {
	orgID, err := parseOrgID(rawOrg)
	if err != nil {
		return err
	}
	rawActor, _ := cmd.Flags().GetString("actor")
	actorID, err := uuid.Parse(rawActor)
	if err != nil {
		return fmt.Errorf("invalid actor id %q", rawActor)
	}
	note, _ := cmd.Flags().GetString("note")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		change := map[string]func(context.Context, uuid.UUID, uuid.UUID, string) (*models.OrganizationBilling, error){
			"suspend":    a.billing.Suspend,
			"cancel":     a.billing.Cancel,
			"reactivate": a.billing.Reactivate,
		}[action]

		b, err := change(ctx, orgID, actorID, note)
		if err != nil {
			return err
		}
		return printBilling(cmd, b)
	})
}

func printBilling(cmd *cobra.Command, b *models.OrganizationBilling) error {
	out := cmd.OutOrStdout()
	if done, err := printStructured(out, b); done {
		return err
	}
	fmt.Fprintf(out, "✓ %s is on %s (%s), status %s\n", b.OrgID, b.Plan, b.BillingCycle, b.Status)
	return nil
}
