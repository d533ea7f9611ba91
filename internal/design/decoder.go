package design

import (
	"fmt"
	"math"

	"github.com/robert-at-pretension-io/amc/internal/library"
)

var nandInputs = []string{"A", "B", "C"}

// rowOffset returns the y offset and mirroring of row r. Odd rows are
// mirrored so neighbouring rows share a supply rail.
func rowOffset(r int, pitch float64) (float64, bool) {
	if r%2 == 1 {
		return float64(r+1) * pitch, true
	}
	return float64(r) * pitch, false
}

// Predecoder builds a 2- or 3-bit one-hot decoder: a column of input
// inverters followed by one NAND+INV row per output.
func Predecoder(lib *library.Library, names Names, bits int) (*Design, error) {
	if bits != 2 && bits != 3 {
		return nil, fmt.Errorf("%w: predecoder bits must be 2 or 3, got %d", ErrBadParam, bits)
	}
	inv, err := Leaf(lib, names, "inv")
	if err != nil {
		return nil, err
	}
	nand, err := Leaf(lib, names, fmt.Sprintf("nand%d", bits))
	if err != nil {
		return nil, err
	}

	rows := 1 << bits
	pitch := math.Max(nand.Height, inv.Height)
	b := newBuilder(fmt.Sprintf("pre%dx%d", bits, rows), "predecoder")

	var inputs []Instance
	for j := 0; j < bits; j++ {
		y, mirror := rowOffset(j, inv.Height)
		inputs = append(inputs, b.place(fmt.Sprintf("inv_in%d", j), inv, 0, y, mirror, map[string]string{
			"A": bus("in", j), "Z": bus("in_bar", j), "vdd": "vdd", "gnd": "gnd",
		}))
	}

	var outputs []Instance
	for r := 0; r < rows; r++ {
		y, mirror := rowOffset(r, pitch)
		conns := map[string]string{"Z": bus("out_bar", r), "vdd": "vdd", "gnd": "gnd"}
		for j := 0; j < bits; j++ {
			if r&(1<<j) != 0 {
				conns[nandInputs[j]] = bus("in", j)
			} else {
				conns[nandInputs[j]] = bus("in_bar", j)
			}
		}
		b.place(fmt.Sprintf("nand%d", r), nand, inv.Width, y, mirror, conns)
		outputs = append(outputs, b.place(fmt.Sprintf("inv_out%d", r), inv, inv.Width+nand.Width, y, mirror, map[string]string{
			"A": bus("out_bar", r), "Z": bus("out", r), "vdd": "vdd", "gnd": "gnd",
		}))
	}

	for j, inst := range inputs {
		b.expose(inst, "A", bus("in", j))
	}
	for r, inst := range outputs {
		b.expose(inst, "Z", bus("out", r))
	}
	exposeSupply(b)

	height := math.Max(float64(bits)*inv.Height, float64(rows)*pitch)
	return b.finish(2*inv.Width+nand.Width, height), nil
}

// WordlineDriver gates each wordline input with a shared enable: NAND2 then
// INV per row.
func WordlineDriver(lib *library.Library, names Names, rows int) (*Design, error) {
	if rows < 1 {
		return nil, fmt.Errorf("%w: wordline_driver rows must be at least 1, got %d", ErrBadParam, rows)
	}
	nand, err := Leaf(lib, names, "nand2")
	if err != nil {
		return nil, err
	}
	inv, err := Leaf(lib, names, "inv")
	if err != nil {
		return nil, err
	}

	pitch := math.Max(nand.Height, inv.Height)
	b := newBuilder(fmt.Sprintf("wordline_driver_%d", rows), "wordline_driver")
	var gates, drivers []Instance
	for r := 0; r < rows; r++ {
		y, mirror := rowOffset(r, pitch)
		gates = append(gates, b.place(fmt.Sprintf("nand%d", r), nand, 0, y, mirror, map[string]string{
			"A": "en", "B": bus("in", r), "Z": bus("wl_bar", r), "vdd": "vdd", "gnd": "gnd",
		}))
		drivers = append(drivers, b.place(fmt.Sprintf("inv%d", r), inv, nand.Width, y, mirror, map[string]string{
			"A": bus("wl_bar", r), "Z": bus("wl", r), "vdd": "vdd", "gnd": "gnd",
		}))
	}

	for _, inst := range gates {
		b.expose(inst, "A", "en")
	}
	for r, inst := range gates {
		b.expose(inst, "B", bus("in", r))
	}
	for r, inst := range drivers {
		b.expose(inst, "Z", bus("wl", r))
	}
	exposeSupply(b)

	return b.finish(nand.Width+inv.Width, float64(rows)*pitch), nil
}

func exposeSupply(b *builder) {
	for _, p := range supply {
		for _, inst := range b.d.Instances {
			b.expose(inst, p, p)
		}
	}
}
