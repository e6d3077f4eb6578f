package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"    //nolint:gochecknoglobals // Build-time commit info
	date    = "unknown" //nolint:gochecknoglobals // Build-time date info

	// Global debug flag
	debugMode bool //nolint:gochecknoglobals // CLI global flag
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "armature",
		Short: "Deployment lifecycle orchestration for cloud templates",
		Long: `Armature submits cloud template deployments, monitors them in the
background, and keeps a durable history of every deployment it has seen.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debugMode {
				_ = os.Setenv("ARMATURE_DEBUG", "true") // os.Setenv always returns nil
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"Enable debug logging")

	rootCmd.AddCommand(
		newServerCommand(),
		newConfigCommand(),
		newDeployCommand(),
		newStatusCommand(),
		newListCommand(),
		newDeleteCommand(),
		newStatsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
