package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/bootstrap"
)

var usageAccount string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect account usage",
}

var usageSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show an account's usage in the current period",
	Long: `Show an account's usage in the current period, read from the configured ledger.

Examples:
  speechquota usage summary --account acct_123`,
	RunE: runUsageSummary,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageSummaryCmd)

	usageSummaryCmd.Flags().StringVar(&usageAccount, "account", "", "account ID (required)")
	usageSummaryCmd.MarkFlagRequired("account")
}

func runUsageSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := bootstrap.OpenStore(ctx, cfg, clock.Real{}, zerolog.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := bootstrap.NewQuotaService(cfg, store, clock.Real{}, nil, zerolog.Nop())
	if err != nil {
		return err
	}

	sum, err := svc.UsageSummary(ctx, usageAccount)
	if err != nil {
		return fmt.Errorf("usage summary: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Account: %s\n", usageAccount)
	fmt.Fprintf(out, "  Plan:       %s (%s)\n", sum.PlanID, sum.PeriodKind)
	fmt.Fprintf(out, "  Period:     %s\n", sum.PeriodKey)
	fmt.Fprintf(out, "  Used:       %d / %d (%.1f%%)\n", sum.Used, sum.Limit, sum.UsagePercentage)
	fmt.Fprintf(out, "  Remaining:  %d\n", sum.Remaining)
	fmt.Fprintf(out, "  Requests:   %d\n", sum.Requests)
	fmt.Fprintf(out, "  Next reset: %s\n", sum.NextReset.UTC().Format("2006-01-02 15:04:05 MST"))
	if sum.IsOverLimit {
		fmt.Fprintln(out, "  Status:     over limit")
	} else if sum.IsNearLimit {
		fmt.Fprintln(out, "  Status:     near limit")
	}
	return nil
}
