package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Load the configuration, apply SPEECHQUOTA_* overrides and check it,
including every plan in the catalog. Exits non-zero when invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration valid")
	fmt.Fprintf(out, "  Listen:       %s\n", cfg.Addr())
	fmt.Fprintf(out, "  Storage:      %s\n", cfg.Storage.Driver)
	fmt.Fprintf(out, "  Enforcement:  %s\n", cfg.EnforceMode())
	fmt.Fprintf(out, "  Plans:        %d (default: %s)\n", catalog.Len(), catalog.Default().ID)
	return nil
}
