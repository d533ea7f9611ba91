package regression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/amc/internal/library"
)

// dependentsGraph maps a node to the nodes that depend on it: library cells
// to the cases that instantiate them.
type dependentsGraph map[string]map[string]bool

func (g dependentsGraph) add(dep, dependent string) {
	if g[dep] == nil {
		g[dep] = make(map[string]bool)
	}
	g[dep][dependent] = true
}

func buildDependentsGraph(entries map[string]cacheEntry) dependentsGraph {
	graph := make(dependentsGraph)
	for id, entry := range entries {
		for _, cell := range entry.Cells {
			graph.add(cell, id)
		}
	}
	return graph
}

type impactReport struct {
	Root   string
	Levels [][]string
}

func computeImpact(root string, dependents dependentsGraph) impactReport {
	visited := map[string]bool{root: true}
	frontier := []string{root}
	var levels [][]string

	for len(frontier) > 0 {
		var next []string
		for _, f := range frontier {
			for dep := range dependents[f] {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				next = append(next, dep)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Strings(next)
		levels = append(levels, next)
		frontier = next
	}

	return impactReport{Root: root, Levels: levels}
}

// libraryImpact turns a snapshot delta into the set of affected cases.
func libraryImpact(delta library.Delta, entries map[string]cacheEntry) (*Impact, []impactReport) {
	graph := buildDependentsGraph(entries)
	impact := &Impact{Added: delta.Added, Removed: delta.Removed, Changed: delta.Changed, Cases: []string{}}
	seen := make(map[string]bool)
	var reports []impactReport
	for _, cell := range delta.All() {
		report := computeImpact(cell, graph)
		if len(report.Levels) == 0 {
			continue
		}
		reports = append(reports, report)
		for _, level := range report.Levels {
			for _, id := range level {
				if !seen[id] {
					seen[id] = true
					impact.Cases = append(impact.Cases, id)
				}
			}
		}
	}
	sort.Strings(impact.Cases)
	return impact, reports
}

// FormatImpact renders the impact section of a run report.
func FormatImpact(impact *Impact) string {
	if impact == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("library changed: %d added, %d removed, %d changed\n",
		len(impact.Added), len(impact.Removed), len(impact.Changed)))
	for _, group := range []struct {
		label string
		cells []string
	}{{"added", impact.Added}, {"removed", impact.Removed}, {"changed", impact.Changed}} {
		if len(group.cells) > 0 {
			b.WriteString(fmt.Sprintf("  %s: %s\n", group.label, strings.Join(group.cells, ", ")))
		}
	}
	if len(impact.Cases) > 0 {
		b.WriteString(fmt.Sprintf("  affected cases (%d): %s\n", len(impact.Cases), strings.Join(impact.Cases, ", ")))
	}
	return b.String()
}

func formatImpactReport(report impactReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s\n", report.Root))
	for i, level := range report.Levels {
		b.WriteString(fmt.Sprintf("    level %d (%d): %s\n", i+1, len(level), strings.Join(level, ", ")))
	}
	return b.String()
}
