// Package library holds the technology cell library: named layout blocks with
// a fixed size and a pin map, read from LEF abstracts or YAML cell files.
package library

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
)

var (
	// ErrCellNotFound is returned when a named cell is not in the library.
	ErrCellNotFound = errors.New("cell not found")

	// ErrPinNotFound is returned when a requested pin is not defined on a cell.
	ErrPinNotFound = errors.New("pin not found")

	// ErrDuplicateCell is returned when two files define the same cell differently.
	ErrDuplicateCell = errors.New("duplicate cell definition")
)

// Shape is a rectangle on a layer, in microns.
type Shape struct {
	Layer string   `json:"layer"`
	Box   sdf.Box2 `json:"box"`
}

// Pin is a named cell terminal with its physical shapes.
type Pin struct {
	Name      string  `json:"name"`
	Direction string  `json:"direction,omitempty"`
	Use       string  `json:"use,omitempty"`
	Shapes    []Shape `json:"shapes"`
}

// Cell is a library cell: width, height and pins are fixed by the library.
type Cell struct {
	Name   string         `json:"name"`
	Class  string         `json:"class,omitempty"`
	Width  float64        `json:"width"`
	Height float64        `json:"height"`
	Pins   map[string]Pin `json:"pins"`
	Source string         `json:"source,omitempty"`
}

// NewBox builds a box from two corners in any order.
func NewBox(x0, y0, x1, y1 float64) sdf.Box2 {
	return sdf.Box2{
		Min: v2.Vec{X: math.Min(x0, x1), Y: math.Min(y0, y1)},
		Max: v2.Vec{X: math.Max(x0, x1), Y: math.Max(y0, y1)},
	}
}

// PinNames returns the pin names sorted.
func (c Cell) PinNames() []string {
	names := make([]string, 0, len(c.Pins))
	for name := range c.Pins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bounds is the cell outline with its origin at (0,0).
func (c Cell) Bounds() sdf.Box2 {
	return NewBox(0, 0, c.Width, c.Height)
}

// canonical drops the source file and normalizes an absent pin map.
func (c Cell) canonical() Cell {
	c.Source = ""
	if c.Pins == nil {
		c.Pins = map[string]Pin{}
	}
	return c
}

// sameGeometry compares everything but the source file.
func (c Cell) sameGeometry(o Cell) bool {
	ja, errA := json.Marshal(c.canonical())
	jb, errB := json.Marshal(o.canonical())
	return errA == nil && errB == nil && string(ja) == string(jb)
}

// LookupError reports a failed cell or pin lookup.
type LookupError struct {
	Cell        string
	MissingPins []string
	Available   []string
	err         error
}

func (e *LookupError) Error() string {
	if errors.Is(e.err, ErrCellNotFound) {
		return fmt.Sprintf("cell %q: %v", e.Cell, e.err)
	}
	return fmt.Sprintf("cell %q: %v: %s (available: %s)",
		e.Cell, e.err, strings.Join(e.MissingPins, ", "), strings.Join(e.Available, ", "))
}

func (e *LookupError) Unwrap() error {
	return e.err
}

// Library is a thread-safe registry of cells keyed by exact name.
type Library struct {
	mu    sync.RWMutex
	cells map[string]Cell
}

// New returns an empty library.
func New() *Library {
	return &Library{cells: make(map[string]Cell)}
}

// Add registers a cell. Re-adding an identical cell is a no-op.
func (l *Library) Add(c Cell) error {
	if c.Name == "" {
		return fmt.Errorf("cell without a name in %s", c.Source)
	}
	if c.Pins == nil {
		c.Pins = make(map[string]Pin)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.cells[c.Name]; ok {
		if prev.sameGeometry(c) {
			return nil
		}
		return fmt.Errorf("%w: %q in %s and %s", ErrDuplicateCell, c.Name, prev.Source, c.Source)
	}
	l.cells[c.Name] = c
	return nil
}

// Get returns the named cell.
func (l *Library) Get(name string) (Cell, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.cells[name]
	return c, ok
}

// Lookup returns the named cell after checking that every requested pin exists.
func (l *Library) Lookup(name string, pins ...string) (Cell, error) {
	c, ok := l.Get(name)
	if !ok {
		return Cell{}, &LookupError{Cell: name, err: ErrCellNotFound}
	}
	var missing []string
	for _, p := range pins {
		if _, ok := c.Pins[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return Cell{}, &LookupError{
			Cell:        name,
			MissingPins: missing,
			Available:   c.PinNames(),
			err:         ErrPinNotFound,
		}
	}
	return c, nil
}

// Names returns all cell names sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.cells))
	for name := range l.cells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of cells.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cells)
}

// Snapshot returns a copy of all cells sorted by name.
func (l *Library) Snapshot() []Cell {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Cell, 0, len(l.cells))
	for _, c := range l.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Hash is a stable content hash of the library geometry.
func (l *Library) Hash() string {
	h := sha256.New()
	for _, c := range l.Snapshot() {
		data, _ := json.Marshal(c.canonical())
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CellHash is a stable content hash of a single cell.
func CellHash(c Cell) string {
	data, _ := json.Marshal(c.canonical())
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
