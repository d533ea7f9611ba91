package design

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Netlist renders d as SPICE subcircuits, children before parents. Library
// cells are referenced by name and only emitted as a stub when d itself is a
// leaf.
func Netlist(d *Design) string {
	var b strings.Builder
	fmt.Fprintf(&b, "* amc %s %s\n", d.Kind, d.Name)
	if d.Leaf {
		writeSubckt(&b, d)
		return b.String()
	}
	done := make(map[string]bool)
	var emit func(*Design)
	emit = func(cur *Design) {
		if cur.Leaf || done[cur.Name] {
			return
		}
		done[cur.Name] = true
		for _, inst := range cur.Instances {
			emit(inst.Of)
		}
		b.WriteString("\n")
		writeSubckt(&b, cur)
	}
	emit(d)
	return b.String()
}

func writeSubckt(b *strings.Builder, d *Design) {
	fmt.Fprintf(b, ".SUBCKT %s %s\n", d.Name, strings.Join(d.PinOrder, " "))
	if d.Leaf {
		fmt.Fprintf(b, "* library cell %s %s x %s\n", d.Cell.Name, formatFloat(d.Width), formatFloat(d.Height))
	}
	for _, inst := range d.Instances {
		nets := make([]string, len(inst.Of.PinOrder))
		for i, p := range inst.Of.PinOrder {
			nets[i] = inst.Net(p)
		}
		fmt.Fprintf(b, "X%s %s %s\n", inst.Name, strings.Join(nets, " "), inst.Of.Name)
	}
	fmt.Fprintf(b, ".ENDS %s\n", d.Name)
}

// round trims float noise from offset arithmetic.
func round(v float64) float64 {
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		return 0
	}
	return r
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(round(v), 'f', -1, 64)
}
