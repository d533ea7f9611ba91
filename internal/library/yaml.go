package library

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// cellFile is the on-disk layout of a *.cells.yaml file.
//
//	cells:
//	  - name: pinv
//	    class: CORE
//	    width: 2.4
//	    height: 6.0
//	    pins:
//	      A: {direction: INPUT, shapes: [{layer: metal1, rect: [0.1, 2.0, 0.5, 2.4]}]}
type cellFile struct {
	Cells []cellEntry `yaml:"cells"`
}

type cellEntry struct {
	Name   string              `yaml:"name"`
	Class  string              `yaml:"class"`
	Width  float64             `yaml:"width"`
	Height float64             `yaml:"height"`
	Pins   map[string]pinEntry `yaml:"pins"`
}

type pinEntry struct {
	Direction string       `yaml:"direction"`
	Use       string       `yaml:"use"`
	Shapes    []shapeEntry `yaml:"shapes"`
}

type shapeEntry struct {
	Layer string    `yaml:"layer"`
	Rect  []float64 `yaml:"rect"`
}

// ReadYAML reads a *.cells.yaml file.
func ReadYAML(path string) ([]Cell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cells, err := parseYAML(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cells, nil
}

func parseYAML(data []byte, source string) ([]Cell, error) {
	var file cellFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse cell YAML: %w", err)
	}

	cells := make([]Cell, 0, len(file.Cells))
	for _, entry := range file.Cells {
		cell := Cell{
			Name:   entry.Name,
			Class:  entry.Class,
			Width:  entry.Width,
			Height: entry.Height,
			Pins:   make(map[string]Pin, len(entry.Pins)),
			Source: source,
		}
		names := make([]string, 0, len(entry.Pins))
		for name := range entry.Pins {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pe := entry.Pins[name]
			pin := Pin{Name: name, Direction: strings.ToUpper(pe.Direction), Use: strings.ToUpper(pe.Use)}
			for _, se := range pe.Shapes {
				if len(se.Rect) != 4 {
					return nil, fmt.Errorf("cell %s pin %s: rect needs four values, got %d", entry.Name, name, len(se.Rect))
				}
				pin.Shapes = append(pin.Shapes, Shape{
					Layer: se.Layer,
					Box:   NewBox(se.Rect[0], se.Rect[1], se.Rect[2], se.Rect[3]),
				})
			}
			cell.Pins[name] = pin
		}
		cells = append(cells, cell)
	}
	return cells, nil
}
