package design

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/amc/internal/library"
)

type cellDef struct {
	name          string
	width, height float64
	pins          []string
}

// testCell gives pin i a 0.1 square at (0, 0.1*i).
func testCell(def cellDef) library.Cell {
	c := library.Cell{Name: def.name, Class: "CORE", Width: def.width, Height: def.height, Pins: map[string]library.Pin{}}
	for i, p := range def.pins {
		y := 0.1 * float64(i)
		c.Pins[p] = library.Pin{
			Name:   p,
			Shapes: []library.Shape{{Layer: "metal1", Box: library.NewBox(0, y, 0.1, y+0.1)}},
		}
	}
	return c
}

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib := library.New()
	defs := []cellDef{
		{"pinv", 1.2, 3, Leaves["inv"].Pins},
		{"pnand2", 2.4, 3, Leaves["nand2"].Pins},
		{"pnand3", 3.0, 3, Leaves["nand3"].Pins},
		{"pnor2", 2.4, 3, Leaves["nor2"].Pins},
		{"power_gate", 4, 6, Leaves["power_gate"].Pins},
		{"data_ready", 2, 6, Leaves["data_ready"].Pins},
		{"write_driver", 2, 8, Leaves["write_driver"].Pins},
		{"sense_amp", 2, 10, Leaves["sense_amp"].Pins},
		{"cell_6t", 1.2, 1.6, Leaves["bitcell"].Pins},
		{"ms_flop", 3.6, 8, Leaves["dff"].Pins},
	}
	for _, d := range defs {
		require.NoError(t, lib.Add(testCell(d)))
	}
	return lib
}

func TestLeafGenerators(t *testing.T) {
	lib := testLibrary(t)
	for kind, spec := range Leaves {
		d, err := Build(lib, nil, kind, nil)
		require.NoError(t, err, kind)
		assert.True(t, d.Leaf)
		assert.Equal(t, spec.DefaultCell, d.Name)
		assert.Equal(t, spec.Pins, d.PinOrder[:len(spec.Pins)])
		cell, _ := lib.Get(spec.DefaultCell)
		assert.Equal(t, cell.Width, d.Width)
		assert.Equal(t, cell.Height, d.Height)
	}
}

func TestFromLibraryMissingPin(t *testing.T) {
	lib := library.New()
	require.NoError(t, lib.Add(testCell(cellDef{"pinv", 1, 1, []string{"A", "vdd", "gnd"}})))

	_, err := Build(lib, nil, "inv", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, library.ErrPinNotFound))
	assert.Contains(t, err.Error(), "Z")

	_, err = Build(lib, nil, "nand2", nil)
	assert.True(t, errors.Is(err, library.ErrCellNotFound))
}

func TestNamesOverride(t *testing.T) {
	lib := testLibrary(t)
	require.NoError(t, lib.Add(testCell(cellDef{"pinv_x2", 2.0, 3, Leaves["inv"].Pins})))

	d, err := Build(lib, Names{"inv": "pinv_x2"}, "inv", nil)
	require.NoError(t, err)
	assert.Equal(t, "pinv_x2", d.Name)
	assert.Equal(t, 2.0, d.Width)
}

func TestWriteDriverArray(t *testing.T) {
	lib := testLibrary(t)
	d, err := Build(lib, nil, "write_driver_array", Params{"size": 4})
	require.NoError(t, err)

	assert.Equal(t, "write_driver_array_4", d.Name)
	assert.Len(t, d.Instances, 4)
	assert.InDelta(t, 8.0, d.Width, 1e-9)
	assert.InDelta(t, 8.0, d.Height, 1e-9)
	assert.Equal(t, []string{"din[0]", "bl[0]", "br[0]", "en", "vdd", "gnd", "din[1]"}, d.PinOrder[:7])
	assert.Len(t, d.Pins["en"].Shapes, 4)
	assert.Len(t, d.Pins["din[3]"].Shapes, 1)
	assert.InDelta(t, 6.0, d.Pins["din[3]"].Shapes[0].Box.Min.X, 1e-9)
	assert.Equal(t, []string{"write_driver"}, d.Cells())
}

func TestSenseAmpArray(t *testing.T) {
	lib := testLibrary(t)
	d, err := Build(lib, nil, "sense_amp_array", Params{"size": float64(2)})
	require.NoError(t, err)
	assert.Contains(t, d.PinOrder, "dout[1]")
	assert.NotContains(t, d.PinOrder, "en[0]")
	assert.InDelta(t, 4.0, d.Width, 1e-9)
}

func TestArrayBadSize(t *testing.T) {
	lib := testLibrary(t)
	_, err := Build(lib, nil, "write_driver_array", Params{"size": 0})
	assert.True(t, errors.Is(err, ErrBadParam))
	_, err = Build(lib, nil, "write_driver_array", Params{"size": 1.5})
	assert.True(t, errors.Is(err, ErrBadParam))
	_, err = Build(lib, nil, "sense_amp_array", Params{"size": "x"})
	assert.True(t, errors.Is(err, ErrBadParam))
}

func TestPredecoder(t *testing.T) {
	lib := testLibrary(t)
	d, err := Build(lib, nil, "predecoder", Params{"bits": 2})
	require.NoError(t, err)

	assert.Equal(t, "pre2x4", d.Name)
	assert.Len(t, d.Instances, 2+4+4)
	assert.InDelta(t, 4.8, d.Width, 1e-9)
	assert.InDelta(t, 12.0, d.Height, 1e-9)
	assert.Equal(t, []string{"in[0]", "in[1]", "out[0]", "out[1]", "out[2]", "out[3]", "vdd", "gnd"}, d.PinOrder)
	assert.Equal(t, []string{"pinv", "pnand2"}, d.Cells())

	byName := map[string]Instance{}
	for _, inst := range d.Instances {
		byName[inst.Name] = inst
	}
	assert.Equal(t, "in_bar[0]", byName["nand0"].Conns["A"])
	assert.Equal(t, "in_bar[1]", byName["nand0"].Conns["B"])
	assert.Equal(t, "in[0]", byName["nand3"].Conns["A"])
	assert.Equal(t, "in[1]", byName["nand3"].Conns["B"])
	assert.True(t, byName["nand1"].MirrorX)
	assert.InDelta(t, 6.0, byName["nand1"].Offset.Y, 1e-9)
	assert.False(t, byName["nand2"].MirrorX)
}

func TestPredecoderThreeBits(t *testing.T) {
	lib := testLibrary(t)
	d, err := Build(lib, nil, "predecoder", Params{"bits": 3})
	require.NoError(t, err)
	assert.Len(t, d.Instances, 3+8+8)
	assert.Equal(t, []string{"pinv", "pnand3"}, d.Cells())

	_, err = Build(lib, nil, "predecoder", Params{"bits": 4})
	assert.True(t, errors.Is(err, ErrBadParam))
}

func TestWordlineDriverMirroring(t *testing.T) {
	lib := testLibrary(t)
	d, err := Build(lib, nil, "wordline_driver", Params{"rows": 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"en", "in[0]", "in[1]", "wl[0]", "wl[1]", "vdd", "gnd"}, d.PinOrder)
	assert.Len(t, d.Pins["en"].Shapes, 2)

	// inv pin Z sits at y 0.1..0.2; row 1 is flipped under y=6.
	box := d.Pins["wl[1]"].Shapes[0].Box
	assert.InDelta(t, 2.4, box.Min.X, 1e-9)
	assert.InDelta(t, 5.8, box.Min.Y, 1e-9)
	assert.InDelta(t, 5.9, box.Max.Y, 1e-9)
}

func TestBuildUnknownGenerator(t *testing.T) {
	_, err := Build(testLibrary(t), nil, "bank", nil)
	assert.True(t, errors.Is(err, ErrUnknownGenerator))
	assert.Contains(t, Generators(), "predecoder")
	assert.Contains(t, Generators(), "power_gate")
}

func TestLeafNetlist(t *testing.T) {
	d, err := Build(testLibrary(t), nil, "inv", nil)
	require.NoError(t, err)
	assert.Equal(t, "* amc inv pinv\n.SUBCKT pinv A Z vdd gnd\n* library cell pinv 1.2 x 3\n.ENDS pinv\n", Netlist(d))
}

func TestCompositeNetlist(t *testing.T) {
	d, err := Build(testLibrary(t), nil, "write_driver_array", Params{"size": 2})
	require.NoError(t, err)
	got := Netlist(d)
	assert.True(t, strings.HasPrefix(got, "* amc write_driver_array write_driver_array_2\n"))
	assert.Contains(t, got, ".SUBCKT write_driver_array_2 din[0] bl[0] br[0] en vdd gnd din[1] bl[1] br[1]\n")
	assert.Contains(t, got, "Xwrite_driver1 din[1] bl[1] br[1] en vdd gnd write_driver\n")
	assert.NotContains(t, got, ".SUBCKT write_driver ")
}

func TestOutputsAreStable(t *testing.T) {
	lib := testLibrary(t)
	a, err := Build(lib, nil, "predecoder", Params{"bits": 3})
	require.NoError(t, err)
	b, err := Build(lib, nil, "predecoder", Params{"bits": 3})
	require.NoError(t, err)

	assert.Equal(t, Netlist(a), Netlist(b))
	ja, err := MarshalAbstract(a)
	require.NoError(t, err)
	jb, err := MarshalAbstract(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))

	view, err := ParseAbstract(ja)
	require.NoError(t, err)
	assert.Equal(t, "pre3x8", view.Name)
	assert.Equal(t, [4]float64{0, 0, 5.4, 24}, view.BBox)
	assert.Len(t, view.Instances, 19)
}
