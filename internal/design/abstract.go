package design

import (
	"encoding/json"
	"sort"

	"github.com/deadsy/sdfx/sdf"
)

// AbstractView is the layout abstract of a design: outline, pin shapes and
// top-level placements.
type AbstractView struct {
	Name      string             `json:"name"`
	Kind      string             `json:"kind"`
	Cell      string             `json:"cell,omitempty"`
	BBox      [4]float64         `json:"bbox"`
	Pins      []AbstractPin      `json:"pins"`
	Instances []AbstractInstance `json:"instances,omitempty"`
	Cells     []string           `json:"cells"`
}

type AbstractPin struct {
	Name      string          `json:"name"`
	Direction string          `json:"direction,omitempty"`
	Use       string          `json:"use,omitempty"`
	Shapes    []AbstractShape `json:"shapes"`
}

type AbstractShape struct {
	Layer string     `json:"layer"`
	Rect  [4]float64 `json:"rect"`
}

type AbstractInstance struct {
	Name    string            `json:"name"`
	Of      string            `json:"of"`
	Offset  [2]float64        `json:"offset"`
	MirrorX bool              `json:"mirrorX,omitempty"`
	Conns   map[string]string `json:"conns"`
}

func rect(b sdf.Box2) [4]float64 {
	return [4]float64{round(b.Min.X), round(b.Min.Y), round(b.Max.X), round(b.Max.Y)}
}

// Abstract builds the abstract view of d. Pins follow d.PinOrder; shapes keep
// placement order.
func Abstract(d *Design) AbstractView {
	v := AbstractView{
		Name:  d.Name,
		Kind:  d.Kind,
		BBox:  rect(d.Bounds()),
		Pins:  make([]AbstractPin, 0, len(d.PinOrder)),
		Cells: d.Cells(),
	}
	if d.Leaf {
		v.Cell = d.Cell.Name
	}
	for _, name := range d.PinOrder {
		p := d.Pins[name]
		ap := AbstractPin{Name: name, Direction: p.Direction, Use: p.Use, Shapes: make([]AbstractShape, 0, len(p.Shapes))}
		for _, s := range p.Shapes {
			ap.Shapes = append(ap.Shapes, AbstractShape{Layer: s.Layer, Rect: rect(s.Box)})
		}
		v.Pins = append(v.Pins, ap)
	}
	for _, inst := range d.Instances {
		conns := make(map[string]string, len(inst.Of.PinOrder))
		for _, p := range inst.Of.PinOrder {
			conns[p] = inst.Net(p)
		}
		v.Instances = append(v.Instances, AbstractInstance{
			Name:    inst.Name,
			Of:      inst.Of.Name,
			Offset:  [2]float64{round(inst.Offset.X), round(inst.Offset.Y)},
			MirrorX: inst.MirrorX,
			Conns:   conns,
		})
	}
	return v
}

// MarshalAbstract renders the abstract of d as indented JSON.
func MarshalAbstract(d *Design) ([]byte, error) {
	data, err := json.MarshalIndent(Abstract(d), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseAbstract decodes an abstract written by MarshalAbstract.
func ParseAbstract(data []byte) (AbstractView, error) {
	var v AbstractView
	err := json.Unmarshal(data, &v)
	return v, err
}

// PinNames returns the abstract's pin names sorted.
func (v AbstractView) PinNames() []string {
	out := make([]string, len(v.Pins))
	for i, p := range v.Pins {
		out[i] = p.Name
	}
	sort.Strings(out)
	return out
}
