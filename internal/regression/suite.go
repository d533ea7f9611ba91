// Package regression runs generator test suites against golden references.
// Suites are YAML files listing cases; each case builds one design and
// compares its netlist and layout abstract with the files recorded for the
// active technology.
package regression

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/amc/internal/design"
	"github.com/robert-at-pretension-io/amc/internal/validator"
)

// Checks a case may request.
const (
	CheckNetlist  = "netlist"
	CheckAbstract = "abstract"
)

// Suite is a collection of regression cases.
type Suite struct {
	Version     int    `yaml:"version" json:"version"`
	Tech        string `yaml:"tech,omitempty" json:"tech,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Cases       []Case `yaml:"cases" json:"cases"`

	// Path is the file the suite was read from.
	Path string `yaml:"-" json:"-"`
}

// Case is one generator invocation.
type Case struct {
	ID          string        `yaml:"id" json:"id"`
	Generator   string        `yaml:"generator" json:"generator"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Params      design.Params `yaml:"params,omitempty" json:"params,omitempty"`
	Checks      []string      `yaml:"checks,omitempty" json:"checks,omitempty"`
	Tags        []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Wants reports whether the case runs the given check. No checks means all.
func (c Case) Wants(check string) bool {
	if len(c.Checks) == 0 {
		return true
	}
	for _, ch := range c.Checks {
		if ch == check {
			return true
		}
	}
	return false
}

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseSuite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// ParseSuite decodes and validates suite YAML.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse suite YAML: %w", err)
	}

	v, err := validator.New()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateSuite(s); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(s.Cases))
	for _, c := range s.Cases {
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return &s, nil
}

// Filter keeps the cases whose id matches any of the glob patterns. No
// patterns keeps everything.
func (s *Suite) Filter(patterns []string) (*Suite, error) {
	if len(patterns) == 0 {
		return s, nil
	}
	out := *s
	out.Cases = nil
	for _, c := range s.Cases {
		for _, p := range patterns {
			ok, err := filepath.Match(p, c.ID)
			if err != nil {
				return nil, fmt.Errorf("bad case pattern %q: %w", p, err)
			}
			if ok {
				out.Cases = append(out.Cases, c)
				break
			}
		}
	}
	if len(out.Cases) == 0 {
		return nil, fmt.Errorf("no cases match %v", patterns)
	}
	return &out, nil
}
