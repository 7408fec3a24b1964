package main

import (
	"fmt"

	"github.com/spf13/cobra"

	apihttp "github.com/artpar/speechquota/adapters/http"
)

var (
	// Set via ldflags at build time
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "speechquota %s\n", version)
		fmt.Fprintf(out, "  commit:  %s\n", commit)
		fmt.Fprintf(out, "  built:   %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func buildInfo() apihttp.BuildInfo {
	return apihttp.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate}
}
