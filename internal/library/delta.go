package library

import "sort"

// Delta captures cell-level changes between two library snapshots.
type Delta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// All returns every touched cell name, sorted.
func (d Delta) All() []string {
	out := make([]string, 0, len(d.Added)+len(d.Removed)+len(d.Changed))
	out = append(out, d.Added...)
	out = append(out, d.Removed...)
	out = append(out, d.Changed...)
	sort.Strings(out)
	return out
}

// ComputeDelta compares two snapshots by cell name and geometry hash.
func ComputeDelta(prev, next []Cell) Delta {
	before := hashByName(prev)
	after := hashByName(next)

	d := Delta{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for name, h := range after {
		old, ok := before[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case old != h:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func hashByName(cells []Cell) map[string]string {
	out := make(map[string]string, len(cells))
	for _, c := range cells {
		out[c.Name] = CellHash(c)
	}
	return out
}
