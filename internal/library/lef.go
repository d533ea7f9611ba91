package library

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/deadsy/sdfx/sdf"
)

type lefMode int

const (
	lefIdle lefMode = iota
	lefMacro
	lefPin
	lefPort
	lefObs
	lefSkip
)

// ReadLEF reads the MACRO sections of a LEF file. Technology sections
// (LAYER, VIA, SITE, UNITS, ...) are skipped.
func ReadLEF(path string) ([]Cell, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cells, err := parseLEF(f, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cells, nil
}

func parseLEF(r io.Reader, source string) ([]Cell, error) {
	var (
		cells   []Cell
		mode    = lefIdle
		skipEnd string
		cur     Cell
		pin     Pin
		layer   string
		originX float64
		originY float64
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		tokens := tokenize(scanner.Text())
		if len(tokens) == 0 {
			continue
		}

		switch mode {
		case lefIdle:
			switch tokens[0] {
			case "MACRO":
				if len(tokens) < 2 {
					return nil, fmt.Errorf("line %d: MACRO without a name", lineNo)
				}
				cur = Cell{Name: tokens[1], Pins: make(map[string]Pin), Source: source}
				originX, originY = 0, 0
				mode = lefMacro
			case "LAYER", "VIA", "SITE", "VIARULE", "NONDEFAULTRULE":
				if len(tokens) > 1 {
					skipEnd = tokens[1]
					mode = lefSkip
				}
			case "UNITS", "PROPERTYDEFINITIONS", "SPACING":
				skipEnd = tokens[0]
				mode = lefSkip
			}

		case lefSkip:
			if tokens[0] == "END" && len(tokens) > 1 && tokens[1] == skipEnd {
				mode = lefIdle
			}

		case lefMacro:
			switch tokens[0] {
			case "CLASS":
				if len(tokens) > 1 {
					cur.Class = tokens[1]
				}
			case "ORIGIN":
				if len(tokens) < 3 {
					return nil, fmt.Errorf("line %d: ORIGIN needs two values", lineNo)
				}
				x, errX := strconv.ParseFloat(tokens[1], 64)
				y, errY := strconv.ParseFloat(tokens[2], 64)
				if errX != nil || errY != nil {
					return nil, fmt.Errorf("line %d: bad ORIGIN %v", lineNo, tokens[1:])
				}
				originX, originY = x, y
			case "SIZE":
				// SIZE <w> BY <h>
				if len(tokens) < 4 || tokens[2] != "BY" {
					return nil, fmt.Errorf("line %d: malformed SIZE", lineNo)
				}
				w, errW := strconv.ParseFloat(tokens[1], 64)
				h, errH := strconv.ParseFloat(tokens[3], 64)
				if errW != nil || errH != nil {
					return nil, fmt.Errorf("line %d: bad SIZE %v", lineNo, tokens[1:])
				}
				cur.Width, cur.Height = w, h
			case "PIN":
				if len(tokens) < 2 {
					return nil, fmt.Errorf("line %d: PIN without a name", lineNo)
				}
				pin = Pin{Name: tokens[1]}
				mode = lefPin
			case "OBS":
				mode = lefObs
			case "END":
				if len(tokens) > 1 && tokens[1] != cur.Name {
					return nil, fmt.Errorf("line %d: END %s inside MACRO %s", lineNo, tokens[1], cur.Name)
				}
				cells = append(cells, cur)
				mode = lefIdle
			}

		case lefPin:
			switch tokens[0] {
			case "DIRECTION":
				if len(tokens) > 1 {
					pin.Direction = tokens[1]
				}
			case "USE":
				if len(tokens) > 1 {
					pin.Use = tokens[1]
				}
			case "PORT":
				layer = ""
				mode = lefPort
			case "END":
				if len(tokens) > 1 && tokens[1] != pin.Name {
					return nil, fmt.Errorf("line %d: END %s inside PIN %s", lineNo, tokens[1], pin.Name)
				}
				if prev, ok := cur.Pins[pin.Name]; ok {
					pin.Shapes = append(prev.Shapes, pin.Shapes...)
				}
				cur.Pins[pin.Name] = pin
				mode = lefMacro
			}

		case lefPort:
			switch tokens[0] {
			case "LAYER":
				if len(tokens) > 1 {
					layer = tokens[1]
				}
			case "RECT":
				box, err := parseRect(tokens[1:], originX, originY)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				pin.Shapes = append(pin.Shapes, Shape{Layer: layer, Box: box})
			case "END":
				mode = lefPin
			}

		case lefObs:
			if tokens[0] == "END" {
				mode = lefMacro
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if mode != lefIdle && mode != lefSkip {
		return nil, fmt.Errorf("unexpected end of file inside MACRO %s", cur.Name)
	}
	return cells, nil
}

func parseRect(tokens []string, originX, originY float64) (box sdf.Box2, err error) {
	if len(tokens) > 0 && tokens[0] == "MASK" {
		if len(tokens) < 2 {
			return box, fmt.Errorf("malformed RECT MASK")
		}
		tokens = tokens[2:]
	}
	if len(tokens) < 4 {
		return box, fmt.Errorf("RECT needs four values, got %d", len(tokens))
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		v[i], err = strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return box, fmt.Errorf("bad RECT value %q", tokens[i])
		}
	}
	return NewBox(v[0]+originX, v[1]+originY, v[2]+originX, v[3]+originY), nil
}

// tokenize splits a LEF line on whitespace, dropping statement terminators
// and '#' comments.
func tokenize(line string) []string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.TrimSuffix(f, ";")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
