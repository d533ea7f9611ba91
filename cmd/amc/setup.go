package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/tech"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an amc.json configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(rootDir, "amc.json")
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}

		cfg := config.DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created %s\n", path)
		fmt.Fprintln(out, "\nEdit this file to configure:")
		fmt.Fprintln(out, "  - Cell library file patterns")
		fmt.Fprintln(out, "  - Generator cell name overrides")
		fmt.Fprintln(out, "  - Conformance rule severities")
		fmt.Fprintln(out, "  - Golden, output and cache directories")
		return nil
	},
}

var setupJSON bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Resolve the technology and print its environment",
	Long: `Reads <AMC_HOME>/technology/setup_scripts/setup_amc_<AMC_TECH>.py (or the
technology's setup.yaml) and prints the exported variables as shell exports:

  eval "$(amc setup)"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		t, err := tech.Resolve(cmd.Context(), os.Getenv, cfg, tech.Options{Logger: log()})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if setupJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		}
		for _, line := range t.Export() {
			fmt.Fprintln(out, line)
		}
		for _, missing := range t.MissingPaths() {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ path does not exist: %s\n", missing)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing amc.json")
	setupCmd.Flags().BoolVar(&setupJSON, "json", false, "print the resolved technology as JSON")
}
