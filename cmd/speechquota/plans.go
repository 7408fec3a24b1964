package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect the plan catalog",
	Long: `Inspect the plan catalog built from the plans section of the config.

Examples:
  speechquota plans list
  speechquota plans get basic`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	RunE:  runPlansList,
}

var plansGetCmd = &cobra.Command{
	Use:   "get <plan-id>",
	Short: "Get plan details",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansGet,
}

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansGetCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPERIOD\tCHARACTERS\tPER REQUEST\tWAIT\tFORMATS\tDEFAULT")
	fmt.Fprintln(w, "--\t----\t------\t----------\t-----------\t----\t-------\t-------")

	defaultID := catalog.Default().ID
	for _, p := range catalog.List() {
		isDefault := ""
		if p.ID == defaultID {
			isDefault = "yes"
		}
		formats := make([]string, 0, len(p.Limits.AudioFormats))
		for _, f := range p.Limits.AudioFormats {
			formats = append(formats, string(f))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%ds\t%s\t%s\n",
			p.ID, p.Name, p.Limits.PeriodKind,
			p.Limits.PeriodCharacterCap, p.Limits.PerRequestCap,
			p.Limits.WaitSeconds, strings.Join(formats, ","), isDefault)
	}
	return w.Flush()
}

func runPlansGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}

	p, err := catalog.Resolve(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan: %s\n", p.ID)
	fmt.Fprintf(out, "  Name:            %s\n", p.Name)
	fmt.Fprintf(out, "  Period:          %s\n", p.Limits.PeriodKind)
	fmt.Fprintf(out, "  Character cap:   %d\n", p.Limits.PeriodCharacterCap)
	fmt.Fprintf(out, "  Per request cap: %d\n", p.Limits.PerRequestCap)
	fmt.Fprintf(out, "  Wait:            %ds\n", p.Limits.WaitSeconds)
	fmt.Fprintf(out, "  Commercial use:  %t\n", p.Limits.CommercialUse)
	fmt.Fprintf(out, "  Priority:        %s\n", p.Limits.Priority)
	return nil
}
