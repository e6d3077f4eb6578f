//nolint:forbidigo // CLI command needs fmt.Print* for user output
package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/armature/armature/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Armature configuration",
		Long:  "View and validate Armature server configuration settings",
	}

	cmd.AddCommand(
		newConfigShowCommand(),
		newConfigValidateCommand(),
	)

	return cmd
}

// loadStandardConfig creates a new config and loads from the environment.
// This is the standard pattern used by most commands.
func loadStandardConfig() (*config.ServerConfig, error) {
	cfg := config.NewServerConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("failed to expand paths: %w", err)
	}
	return cfg, nil
}

func newConfigShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current configuration from defaults and environment variables",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return displayConfigJSON(cfg)
			case "table":
				return displayConfigTable(cfg)
			default:
				return fmt.Errorf("unknown format: %s. Supported formats: table, json", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate current configuration",
		Long:  "Check the configuration loaded from the environment for errors",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}

			fmt.Println("Configuration is valid")
			return nil
		},
	}
}

func displayConfigJSON(cfg *config.ServerConfig) error {
	fmt.Println(cfg.ToJSON())
	return nil
}

func displayConfigTable(cfg *config.ServerConfig) error {
	sanitized := cfg.GetSanitized()

	keys := make([]string, 0, len(sanitized))
	for k := range sanitized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SETTING\tVALUE")
	_, _ = fmt.Fprintln(w, "-------\t-----")
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%v\n", k, sanitized[k])
	}
	return w.Flush()
}
