package tech

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params maps a parameter table (drc, layer, spice, ...) to its entries.
type Params map[string]map[string]Value

func (p Params) set(table, key string, v Value) {
	if p[table] == nil {
		p[table] = make(map[string]Value)
	}
	p[table][key] = v
}

// Get returns one parameter.
func (p Params) Get(table, key string) (Value, bool) {
	v, ok := p[table][key]
	return v, ok
}

// Number returns a numeric parameter.
func (p Params) Number(table, key string) (float64, bool) {
	v, ok := p.Get(table, key)
	if !ok || v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// ReadTechPy collects `table["key"] = value` assignments from a tech.py file.
// Values the evaluator cannot reduce to a constant are skipped and returned as
// warnings so a richer tech file still loads.
func ReadTechPy(ctx context.Context, path string, environ map[string]string, getenv func(string) string) (Params, []string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	params, warnings, err := evalTechPy(ctx, src, environ, getenv)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return params, warnings, nil
}

func evalTechPy(ctx context.Context, src []byte, environ map[string]string, getenv func(string) string) (Params, []string, error) {
	tree, err := parsePython(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, nil, fmt.Errorf("syntax error in tech file")
	}

	env := newPyEnv(src, environ, getenv)
	params := Params{}
	var warnings []string

	for _, stmt := range statements(root) {
		if stmt.Type() != "assignment" {
			continue
		}
		left, right := stmt.ChildByFieldName("left"), stmt.ChildByFieldName("right")
		if left == nil || right == nil {
			continue
		}
		switch left.Type() {
		case "identifier":
			// `drc = {}` style table declarations and plain constants.
			if right.Type() == "dictionary" || right.Type() == "call" && env.text(right.ChildByFieldName("function")) == "dict" {
				params[env.text(left)] = make(map[string]Value)
				continue
			}
			v, err := env.eval(right)
			if err != nil {
				warnings = append(warnings, err.Error())
				continue
			}
			env.names[env.text(left)] = v
		case "subscript":
			table := left.ChildByFieldName("value")
			key := left.ChildByFieldName("subscript")
			if table == nil || key == nil || table.Type() != "identifier" {
				warnings = append(warnings, env.fail(left, "unsupported assignment target").Error())
				continue
			}
			k, err := env.eval(key)
			if err != nil || k.Kind != KindString {
				warnings = append(warnings, env.fail(key, "parameter key must be a string").Error())
				continue
			}
			v, err := env.eval(right)
			if err != nil {
				warnings = append(warnings, err.Error())
				continue
			}
			params.set(env.text(table), k.Str, v)
		}
	}
	return params, warnings, nil
}

// ReadTechYAML reads a tech.yaml override file: table -> key -> scalar or list.
func ReadTechYAML(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: failed to parse tech YAML: %w", path, err)
	}
	params := Params{}
	for table, entries := range doc {
		for key, node := range entries {
			v, err := yamlValue(&node)
			if err != nil {
				return nil, fmt.Errorf("%s: %s.%s: %w", path, table, key, err)
			}
			params.set(table, key, v)
		}
	}
	return params, nil
}

func yamlValue(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		var f float64
		if n.Tag == "!!int" || n.Tag == "!!float" {
			if err := n.Decode(&f); err != nil {
				return Value{}, err
			}
			return numberValue(f), nil
		}
		return stringValue(n.Value), nil
	case yaml.SequenceNode:
		out := Value{Kind: KindList, List: []Value{}}
		for _, item := range n.Content {
			v, err := yamlValue(item)
			if err != nil {
				return Value{}, err
			}
			out.List = append(out.List, v)
		}
		return out, nil
	}
	return Value{}, fmt.Errorf("unsupported YAML value at line %d", n.Line)
}

// Merge copies every entry of o into p, overriding existing keys.
func (p Params) Merge(o Params) {
	for table, entries := range o {
		for key, v := range entries {
			p.set(table, key, v)
		}
	}
}
