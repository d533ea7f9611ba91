package design

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/robert-at-pretension-io/amc/internal/library"
)

// LeafSpec describes a generator that wraps one library cell.
type LeafSpec struct {
	Kind        string
	DefaultCell string
	Pins        []string
}

var supply = []string{"vdd", "gnd"}

func withSupply(pins ...string) []string {
	return append(pins, supply...)
}

// Leaves is the catalog of single-cell generators.
var Leaves = map[string]LeafSpec{
	"power_gate":   {Kind: "power_gate", DefaultCell: "power_gate", Pins: withSupply("sleep", "vdd_gated")},
	"data_ready":   {Kind: "data_ready", DefaultCell: "data_ready", Pins: withSupply("bl", "br", "dr")},
	"inv":          {Kind: "inv", DefaultCell: "pinv", Pins: withSupply("A", "Z")},
	"nand2":        {Kind: "nand2", DefaultCell: "pnand2", Pins: withSupply("A", "B", "Z")},
	"nand3":        {Kind: "nand3", DefaultCell: "pnand3", Pins: withSupply("A", "B", "C", "Z")},
	"nor2":         {Kind: "nor2", DefaultCell: "pnor2", Pins: withSupply("A", "B", "Z")},
	"write_driver": {Kind: "write_driver", DefaultCell: "write_driver", Pins: withSupply("din", "bl", "br", "en")},
	"sense_amp":    {Kind: "sense_amp", DefaultCell: "sense_amp", Pins: withSupply("bl", "br", "dout", "en")},
	"bitcell":      {Kind: "bitcell", DefaultCell: "cell_6t", Pins: withSupply("bl", "br", "wl")},
	"dff":          {Kind: "dff", DefaultCell: "ms_flop", Pins: withSupply("din", "dout", "dout_bar", "clk")},
}

// Params are generator parameters as decoded from a suite file.
type Params map[string]any

// Int reads an integer parameter, accepting the numeric types YAML and JSON
// decoders produce.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %s=%v is not an integer", ErrBadParam, key, v)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrBadParam, key, n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: %s has type %T", ErrBadParam, key, v)
}

// Names resolves generator kinds to library cell names. A nil map uses the
// catalog defaults.
type Names map[string]string

// Cell returns the library cell name for a leaf kind.
func (n Names) Cell(kind string) string {
	if name, ok := n[kind]; ok && name != "" {
		return name
	}
	return Leaves[kind].DefaultCell
}

// Leaf builds the leaf generator of the given kind.
func Leaf(lib *library.Library, names Names, kind string) (*Design, error) {
	spec, ok := Leaves[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGenerator, kind)
	}
	return FromLibrary(lib, kind, names.Cell(kind), spec.Pins...)
}

type generatorFunc func(lib *library.Library, names Names, params Params) (*Design, error)

var composites = map[string]generatorFunc{
	"write_driver_array": func(lib *library.Library, names Names, params Params) (*Design, error) {
		size, err := params.Int("size", 0)
		if err != nil {
			return nil, err
		}
		return WriteDriverArray(lib, names, size)
	},
	"sense_amp_array": func(lib *library.Library, names Names, params Params) (*Design, error) {
		size, err := params.Int("size", 0)
		if err != nil {
			return nil, err
		}
		return SenseAmpArray(lib, names, size)
	},
	"predecoder": func(lib *library.Library, names Names, params Params) (*Design, error) {
		bits, err := params.Int("bits", 2)
		if err != nil {
			return nil, err
		}
		return Predecoder(lib, names, bits)
	},
	"wordline_driver": func(lib *library.Library, names Names, params Params) (*Design, error) {
		rows, err := params.Int("rows", 0)
		if err != nil {
			return nil, err
		}
		return WordlineDriver(lib, names, rows)
	},
}

// Generators lists every generator name Build accepts, sorted.
func Generators() []string {
	out := make([]string, 0, len(Leaves)+len(composites))
	for k := range Leaves {
		out = append(out, k)
	}
	for k := range composites {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build runs the named generator.
func Build(lib *library.Library, names Names, generator string, params Params) (*Design, error) {
	if _, ok := Leaves[generator]; ok {
		return Leaf(lib, names, generator)
	}
	if fn, ok := composites[generator]; ok {
		return fn(lib, names, params)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownGenerator, generator)
}
