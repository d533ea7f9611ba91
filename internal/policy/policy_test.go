package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/library"
)

func pin(name, use string, boxes ...[4]float64) library.Pin {
	p := library.Pin{Name: name, Use: use}
	for _, b := range boxes {
		p.Shapes = append(p.Shapes, library.Shape{Layer: "metal1", Box: library.NewBox(b[0], b[1], b[2], b[3])})
	}
	return p
}

func goodCell() library.Cell {
	return library.Cell{
		Name: "pinv", Class: "CORE", Width: 2.4, Height: 6,
		Pins: map[string]library.Pin{
			"A":   pin("A", "", [4]float64{0.1, 2, 0.5, 2.4}),
			"Z":   pin("Z", "", [4]float64{1.9, 2, 2.3, 2.4}),
			"vdd": pin("vdd", "POWER", [4]float64{0, 5.7, 2.4, 6}),
			"gnd": pin("gnd", "GROUND", [4]float64{0, 0, 2.4, 0.3}),
		},
	}
}

func rulesOf(r *Result) map[string]int {
	out := map[string]int{}
	for _, v := range r.Violations {
		out[v.Rule]++
	}
	return out
}

func TestCleanCell(t *testing.T) {
	engine, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := engine.Evaluate(context.Background(), Input{Cells: []library.Cell{goodCell()}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Fatalf("expected no violations, got %+v", result.Violations)
	}
}

func TestRules(t *testing.T) {
	engine, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	zero := goodCell()
	zero.Name = "zero"
	zero.Width = 0

	bare := goodCell()
	bare.Name = "bare"
	bare.Pins["A"] = library.Pin{Name: "A"}

	outside := goodCell()
	outside.Name = "outside"
	outside.Pins["Z"] = pin("Z", "", [4]float64{2.2, 2, 2.6, 2.4})

	nosupply := library.Cell{
		Name: "nosupply", Class: "CORE", Width: 1, Height: 1,
		Pins: map[string]library.Pin{"A": pin("A", "", [4]float64{0, 0, 0.5, 0.5})},
	}
	// Supplies found by use rather than name.
	byUse := library.Cell{
		Name: "byuse", Class: "CORE", Width: 1, Height: 1,
		Pins: map[string]library.Pin{
			"VPWR": pin("VPWR", "POWER", [4]float64{0, 0.9, 1, 1}),
			"VGND": pin("VGND", "GROUND", [4]float64{0, 0, 1, 0.1}),
		},
	}
	pad := library.Cell{Name: "pad", Class: "PAD", Width: 1, Height: 1,
		Pins: map[string]library.Pin{"P": pin("P", "", [4]float64{0, 0, 1, 1})}}

	tests := []struct {
		name string
		cell library.Cell
		want map[string]int
	}{
		{"positive_size", zero, map[string]int{"positive_size": 1, "pin_outside_boundary": 4}},
		{"pin_without_shape", bare, map[string]int{"pin_without_shape": 1}},
		{"pin_outside_boundary", outside, map[string]int{"pin_outside_boundary": 1}},
		{"missing_supply_pins", nosupply, map[string]int{"missing_supply_pins": 2}},
		{"supply_by_use", byUse, map[string]int{}},
		{"non_core_cell", pad, map[string]int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Evaluate(context.Background(), Input{Cells: []library.Cell{tt.cell}})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			got := rulesOf(result)
			if len(got) != len(tt.want) {
				t.Fatalf("expected rules %v, got %v", tt.want, got)
			}
			for rule, n := range tt.want {
				if got[rule] != n {
					t.Fatalf("expected %d %s violations, got %d (%+v)", n, rule, got[rule], result.Violations)
				}
			}
		})
	}
}

func TestSeverityOverrides(t *testing.T) {
	engine, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Lint.Rules = map[string]string{"missing_supply_pins": "error", "pin_without_shape": "off"}
	cfg.Lint.IgnoreCells = []string{"ignored_*"}
	engine.Config = cfg

	nosupply := library.Cell{Name: "nosupply", Class: "CORE", Width: 1, Height: 1,
		Pins: map[string]library.Pin{"A": {Name: "A"}}}
	ignored := nosupply
	ignored.Name = "ignored_x"

	result, err := engine.Evaluate(context.Background(), Input{Cells: []library.Cell{nosupply, ignored}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Summary.TotalViolations != 2 || result.Summary.Errors != 2 {
		t.Fatalf("expected 2 errors, got %+v", result.Summary)
	}
	for _, v := range result.Violations {
		if v.Cell != "nosupply" || v.Rule != "missing_supply_pins" {
			t.Fatalf("unexpected violation %+v", v)
		}
	}
	if !result.HasErrors() {
		t.Fatalf("expected HasErrors")
	}
}

func TestExtraPolicyDir(t *testing.T) {
	dir := t.TempDir()
	extra := `package amc.cells

import rego.v1

violations contains v if {
	some cell in input.cells
	not startswith(cell.name, "p")
	v := violation("name_prefix", "info", cell.name, "", sprintf("cell %s does not start with p", [cell.name]))
}
`
	if err := os.WriteFile(filepath.Join(dir, "naming.rego"), []byte(extra), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	engine, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := goodCell()
	c.Name = "inv"
	result, err := engine.Evaluate(context.Background(), Input{Cells: []library.Cell{c}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.Violations) != 1 || result.Violations[0].Rule != "name_prefix" {
		t.Fatalf("expected one name_prefix violation, got %+v", result.Violations)
	}
	if result.Summary.Info != 1 {
		t.Fatalf("expected 1 info, got %+v", result.Summary)
	}
}
