// Package policy checks library cells against conformance rules written in Rego.
package policy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/library"
)

//go:embed rules/*.rego
var rulesFS embed.FS

const violationsQuery = "data.amc.cells.violations"

// Engine evaluates the cell rules.
type Engine struct {
	query rego.PreparedEvalQuery

	// Config supplies severity overrides and ignored cells. Nil keeps the
	// rule defaults.
	Config *config.Config
}

// Violation is one rule hit.
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Cell     string `json:"cell"`
	Pin      string `json:"pin,omitempty"`
	Message  string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation `json:"violations"`
	Summary    Summary     `json:"summary"`
}

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// Input is the document the rules see.
type Input struct {
	Cells []library.Cell `json:"cells"`
}

// New prepares the embedded rules plus any *.rego files in policyDir. An
// empty policyDir uses the embedded rules only.
func New(policyDir string) (*Engine, error) {
	var modules []func(*rego.Rego)

	embedded, err := fs.Glob(rulesFS, "rules/*.rego")
	if err != nil {
		return nil, fmt.Errorf("finding embedded rules: %w", err)
	}
	for _, f := range embedded {
		content, err := rulesFS.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		modules = append(modules, rego.Module(f, string(content)))
	}

	if policyDir != "" {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		sort.Strings(files)
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
		}
	}

	opts := append(modules, rego.Query(violationsQuery))
	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("preparing violations query: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate runs the rules against the input and applies configured severities.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}

	result := &Result{Violations: []Violation{}}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, _ := rs[0].Expressions[0].Value.([]interface{})
		for _, v := range violations {
			vmap, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			violation := Violation{
				Rule:     getString(vmap, "rule"),
				Severity: getString(vmap, "severity"),
				Cell:     getString(vmap, "cell"),
				Pin:      getString(vmap, "pin"),
				Message:  getString(vmap, "message"),
			}
			if e.Config != nil {
				if !e.Config.IsRuleEnabled(violation.Rule) || e.Config.IsCellIgnored(violation.Cell) {
					continue
				}
				violation.Severity = e.Config.RuleSeverity(violation.Rule, violation.Severity)
			}
			result.Violations = append(result.Violations, violation)
		}
	}

	sort.Slice(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Cell != b.Cell {
			return a.Cell < b.Cell
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		if a.Pin != b.Pin {
			return a.Pin < b.Pin
		}
		return a.Message < b.Message
	})

	for _, v := range result.Violations {
		result.Summary.TotalViolations++
		switch v.Severity {
		case "error":
			result.Summary.Errors++
		case "warning":
			result.Summary.Warnings++
		default:
			result.Summary.Info++
		}
	}
	return result, nil
}

// HasErrors reports whether any violation is an error.
func (r *Result) HasErrors() bool {
	return r.Summary.Errors > 0
}

func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
