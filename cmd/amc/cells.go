package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/amc/internal/library"
	"github.com/robert-at-pretension-io/amc/internal/policy"
	"github.com/robert-at-pretension-io/amc/internal/validator"
)

var cellsJSON bool

var cellsCmd = &cobra.Command{
	Use:   "cells",
	Short: "List the cells of the technology library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lib, err := loadLibrary(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cellsJSON {
			return writeJSON(out, map[string]any{"hash": lib.Hash(), "cells": lib.Snapshot()})
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CELL\tCLASS\tSIZE\tPINS")
		for _, c := range lib.Snapshot() {
			fmt.Fprintf(tw, "%s\t%s\t%gx%g\t%s\n", c.Name, c.Class, c.Width, c.Height, strings.Join(c.PinNames(), " "))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d cells, hash %s\n", lib.Len(), shortHash(lib.Hash()))
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <cell> [pin...]",
	Short: "Look up a library cell and check that it has the given pins",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lib, err := loadLibrary(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		c, err := lib.Lookup(args[0], args[1:]...)
		if errors.Is(err, library.ErrCellNotFound) {
			if similar := similarNames(lib.Names(), args[0]); len(similar) > 0 {
				return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(similar, ", "))
			}
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  %gx%g", c.Name, c.Width, c.Height)
		if c.Class != "" {
			fmt.Fprintf(out, "  class %s", c.Class)
		}
		if c.Source != "" {
			fmt.Fprintf(out, "  (%s)", c.Source)
		}
		fmt.Fprintln(out)
		for _, name := range c.PinNames() {
			p := c.Pins[name]
			fmt.Fprintf(out, "  %-12s %-8s %-8s", name, orDash(p.Direction), orDash(p.Use))
			for _, s := range p.Shapes {
				fmt.Fprintf(out, " %s[%g,%g %g,%g]", s.Layer, s.Box.Min.X, s.Box.Min.Y, s.Box.Max.X, s.Box.Max.Y)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var (
	checkJSON      bool
	checkPolicyDir string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check library cells against the schema and conformance rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lib, err := loadLibrary(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		v, err := validator.New()
		if err != nil {
			return err
		}
		snapshot := map[string]any{"cells": lib.Snapshot()}
		if errs := v.Errors(validator.DefLibrary, snapshot); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", e)
			}
			return fmt.Errorf("library does not match the %s contract (%d errors)", validator.DefLibrary, len(errs))
		}

		engine, err := policy.New(checkPolicyDir)
		if err != nil {
			return err
		}
		engine.Config = cfg
		result, err := engine.Evaluate(cmd.Context(), policy.Input{Cells: lib.Snapshot()})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if checkJSON {
			if err := writeJSON(out, result); err != nil {
				return err
			}
		} else {
			printViolations(out, result, lib.Len())
		}
		if result.HasErrors() {
			return errReported
		}
		return nil
	},
}

func printViolations(w io.Writer, result *policy.Result, cells int) {
	if len(result.Violations) > 0 {
		fmt.Fprintf(w, "\n=== Cell Violations ===\n")
		for _, v := range result.Violations {
			icon := "ℹ"
			switch v.Severity {
			case "error":
				icon = "✗"
			case "warning":
				icon = "⚠"
			}
			where := v.Cell
			if v.Pin != "" {
				where += "." + v.Pin
			}
			fmt.Fprintf(w, "%s [%s] %s - %s\n", icon, v.Rule, where, v.Message)
		}
	}

	fmt.Fprintf(w, "\n=== Cell Check Summary ===\n")
	fmt.Fprintf(w, "Cells:      %d\n", cells)
	fmt.Fprintf(w, "Violations: %d\n", result.Summary.TotalViolations)
	fmt.Fprintf(w, "Errors:     %d\n", result.Summary.Errors)
	fmt.Fprintf(w, "Warnings:   %d\n", result.Summary.Warnings)
	fmt.Fprintf(w, "Info:       %d\n", result.Summary.Info)
}

// similarNames returns library names that contain name, or are contained in
// it, ignoring case.
func similarNames(names []string, name string) []string {
	want := strings.ToLower(name)
	var out []string
	for _, n := range names {
		l := strings.ToLower(n)
		if strings.Contains(l, want) || strings.Contains(want, l) {
			out = append(out, n)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	cellsCmd.Flags().BoolVar(&cellsJSON, "json", false, "print the library snapshot as JSON")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print violations as JSON")
	checkCmd.Flags().StringVar(&checkPolicyDir, "policy-dir", "", "directory with extra .rego rules")
}
