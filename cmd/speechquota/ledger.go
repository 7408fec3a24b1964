package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/bootstrap"
)

var pruneBefore string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Maintain the usage ledger",
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records of finished periods",
	Long: `Delete usage records whose period ended before the period containing --before.
Current periods are never touched. Redis counters also expire on their own.

Examples:
  speechquota ledger prune
  speechquota ledger prune --before 2024-01-01`,
	RunE: runLedgerPrune,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerPruneCmd)

	ledgerPruneCmd.Flags().StringVar(&pruneBefore, "before", "", "UTC date (YYYY-MM-DD); default today")
}

func runLedgerPrune(cmd *cobra.Command, args []string) error {
	before := time.Now().UTC()
	if pruneBefore != "" {
		t, err := time.Parse("2006-01-02", pruneBefore)
		if err != nil {
			return fmt.Errorf("invalid --before date: %w", err)
		}
		before = t
	}

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

	n, err := store.Pruner.Prune(ctx, before)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d records older than %s (%s)\n", n, before.Format("2006-01-02"), store.Driver)
	return nil
}
