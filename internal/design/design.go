// Package design builds layout designs from library cells: leaf wrappers
// around a single cell and parameterized arrays and decoders assembled from
// them.
package design

import (
	"errors"
	"fmt"
	"sort"

	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"

	"github.com/robert-at-pretension-io/amc/internal/library"
)

// Version is bumped whenever generator output changes for identical inputs.
const Version = "1"

var (
	// ErrUnknownGenerator is returned by Build for an unregistered generator.
	ErrUnknownGenerator = errors.New("unknown generator")

	// ErrBadParam is returned when a generator parameter is missing or out of range.
	ErrBadParam = errors.New("invalid generator parameter")
)

// Design is a named block with an outline and pins. A leaf design wraps one
// library cell; other designs are built from instances.
type Design struct {
	Name      string
	Kind      string
	Width     float64
	Height    float64
	Pins      map[string]library.Pin
	PinOrder  []string
	Instances []Instance
	Leaf      bool
	Cell      *library.Cell
}

// Instance places a child design. MirrorX flips the child about the x axis
// before translating it by Offset.
type Instance struct {
	Name    string
	Of      *Design
	Offset  v2.Vec
	MirrorX bool
	Conns   map[string]string
}

// FromLibrary wraps a library cell after checking it defines the given pins.
func FromLibrary(lib *library.Library, kind, cellName string, pins ...string) (*Design, error) {
	cell, err := lib.Lookup(cellName, pins...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	order := append([]string(nil), pins...)
	seen := make(map[string]bool, len(pins))
	for _, p := range pins {
		seen[p] = true
	}
	for _, p := range cell.PinNames() {
		if !seen[p] {
			order = append(order, p)
		}
	}
	return &Design{
		Name:     cell.Name,
		Kind:     kind,
		Width:    cell.Width,
		Height:   cell.Height,
		Pins:     cell.Pins,
		PinOrder: order,
		Leaf:     true,
		Cell:     &cell,
	}, nil
}

// Bounds is the design outline.
func (d *Design) Bounds() sdf.Box2 {
	return library.NewBox(0, 0, d.Width, d.Height)
}

// Cells returns the names of every library cell used under d, sorted.
func (d *Design) Cells() []string {
	set := make(map[string]bool)
	d.walk(func(leaf *Design) { set[leaf.Cell.Name] = true })
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Design) walk(fn func(leaf *Design)) {
	if d.Leaf {
		fn(d)
		return
	}
	for _, inst := range d.Instances {
		inst.Of.walk(fn)
	}
}

// Transform maps a box from the child's frame into the parent's frame.
func (inst Instance) Transform(b sdf.Box2) sdf.Box2 {
	if inst.MirrorX {
		return library.NewBox(
			inst.Offset.X+b.Min.X, inst.Offset.Y-b.Min.Y,
			inst.Offset.X+b.Max.X, inst.Offset.Y-b.Max.Y,
		)
	}
	return library.NewBox(
		inst.Offset.X+b.Min.X, inst.Offset.Y+b.Min.Y,
		inst.Offset.X+b.Max.X, inst.Offset.Y+b.Max.Y,
	)
}

// Net returns the parent net a child pin is tied to. Unconnected pins get a
// private net so every instance terminal appears in the netlist.
func (inst Instance) Net(pin string) string {
	if n, ok := inst.Conns[pin]; ok {
		return n
	}
	return "n_" + inst.Name + "_" + pin
}

// builder accumulates instances and exposed pins for a composite design.
type builder struct {
	d *Design
}

func newBuilder(name, kind string) *builder {
	return &builder{d: &Design{Name: name, Kind: kind, Pins: make(map[string]library.Pin)}}
}

func (b *builder) place(name string, of *Design, x, y float64, mirror bool, conns map[string]string) Instance {
	inst := Instance{Name: name, Of: of, Offset: v2.Vec{X: x, Y: y}, MirrorX: mirror, Conns: conns}
	b.d.Instances = append(b.d.Instances, inst)
	return inst
}

// expose promotes a child pin to a parent pin, merging shapes when several
// children feed the same parent pin (shared supplies and enables).
func (b *builder) expose(inst Instance, childPin, parentPin string) {
	src, ok := inst.Of.Pins[childPin]
	if !ok {
		return
	}
	p, exists := b.d.Pins[parentPin]
	if !exists {
		p = library.Pin{Name: parentPin, Direction: src.Direction, Use: src.Use}
		b.d.PinOrder = append(b.d.PinOrder, parentPin)
	}
	for _, s := range src.Shapes {
		p.Shapes = append(p.Shapes, library.Shape{Layer: s.Layer, Box: inst.Transform(s.Box)})
	}
	b.d.Pins[parentPin] = p
}

func (b *builder) finish(width, height float64) *Design {
	b.d.Width = width
	b.d.Height = height
	for _, name := range b.d.PinOrder {
		if p := b.d.Pins[name]; p.Shapes == nil {
			p.Shapes = []library.Shape{}
			b.d.Pins[name] = p
		}
	}
	return b.d
}
