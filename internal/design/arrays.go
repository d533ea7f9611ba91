package design

import (
	"fmt"

	"github.com/robert-at-pretension-io/amc/internal/library"
)

func bus(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}

// columnArray tiles size copies of a leaf side by side. perBit pins become
// name[i] on the array; every other pin is shared.
func columnArray(lib *library.Library, names Names, kind, leafKind string, size int, perBit []string) (*Design, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %s size must be at least 1, got %d", ErrBadParam, kind, size)
	}
	leaf, err := Leaf(lib, names, leafKind)
	if err != nil {
		return nil, err
	}
	bit := make(map[string]bool, len(perBit))
	for _, p := range perBit {
		bit[p] = true
	}

	b := newBuilder(fmt.Sprintf("%s_%d", kind, size), kind)
	for i := 0; i < size; i++ {
		conns := make(map[string]string, len(leaf.PinOrder))
		for _, p := range Leaves[leafKind].Pins {
			if bit[p] {
				conns[p] = bus(p, i)
			} else {
				conns[p] = p
			}
		}
		inst := b.place(fmt.Sprintf("%s%d", leafKind, i), leaf, float64(i)*leaf.Width, 0, false, conns)
		for _, p := range Leaves[leafKind].Pins {
			b.expose(inst, p, conns[p])
		}
	}
	return b.finish(float64(size)*leaf.Width, leaf.Height), nil
}

// WriteDriverArray places one write driver per data bit.
func WriteDriverArray(lib *library.Library, names Names, size int) (*Design, error) {
	return columnArray(lib, names, "write_driver_array", "write_driver", size, []string{"din", "bl", "br"})
}

// SenseAmpArray places one sense amplifier per data bit.
func SenseAmpArray(lib *library.Library, names Names, size int) (*Design, error) {
	return columnArray(lib, names, "sense_amp_array", "sense_amp", size, []string{"bl", "br", "dout"})
}
