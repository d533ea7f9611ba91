package tech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SetupScript is the result of reading a technology setup script.
type SetupScript struct {
	Path        string
	Env         map[string]string
	SearchPaths []string
}

// ReadSetupScript evaluates the module-level statements of a Python setup
// script: name bindings, os.environ assignments and sys.path.append calls.
// environ seeds os.environ (AMC_HOME, AMC_TECH); getenv is the fallback for
// variables the script reads but does not set.
func ReadSetupScript(ctx context.Context, path string, environ map[string]string, getenv func(string) string) (*SetupScript, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	script, err := evalSetupScript(ctx, src, environ, getenv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	script.Path = path
	return script, nil
}

func evalSetupScript(ctx context.Context, src []byte, environ map[string]string, getenv func(string) string) (*SetupScript, error) {
	tree, err := parsePython(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("syntax error in setup script")
	}

	scope := make(map[string]string, len(environ))
	for k, v := range environ {
		scope[k] = v
	}
	env := newPyEnv(src, scope, getenv)
	script := &SetupScript{Env: make(map[string]string)}

	for _, stmt := range statements(root) {
		switch stmt.Type() {
		case "assignment":
			left, right := stmt.ChildByFieldName("left"), stmt.ChildByFieldName("right")
			if left == nil || right == nil {
				continue
			}
			v, err := env.eval(right)
			if err != nil {
				return nil, err
			}
			switch left.Type() {
			case "identifier":
				env.names[env.text(left)] = v
			case "subscript":
				target := left.ChildByFieldName("value")
				key := left.ChildByFieldName("subscript")
				if target == nil || key == nil || env.text(target) != "os.environ" {
					return nil, env.fail(left, "unsupported assignment target")
				}
				k, err := env.eval(key)
				if err != nil {
					return nil, err
				}
				scope[k.Str] = v.String()
				script.Env[k.Str] = v.String()
			default:
				return nil, env.fail(left, "unsupported assignment target")
			}
		case "call":
			fn := stmt.ChildByFieldName("function")
			if fn == nil || env.text(fn) != "sys.path.append" {
				continue
			}
			args := stmt.ChildByFieldName("arguments")
			if args == nil || args.NamedChildCount() != 1 {
				return nil, env.fail(stmt, "sys.path.append takes one argument")
			}
			v, err := env.eval(args.NamedChild(0))
			if err != nil {
				return nil, err
			}
			script.SearchPaths = append(script.SearchPaths, v.Str)
		}
	}
	return script, nil
}

type setupYAML struct {
	Env         map[string]string `yaml:"env"`
	SearchPaths []string          `yaml:"search_paths"`
}

// ReadSetupYAML reads a setup.yaml file, expanding ${VAR} references against
// environ first and getenv second.
func ReadSetupYAML(path string, environ map[string]string, getenv func(string) string) (*SetupScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc setupYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: failed to parse setup YAML: %w", path, err)
	}

	scope := make(map[string]string, len(environ)+len(doc.Env))
	for k, v := range environ {
		scope[k] = v
	}
	var missing []string
	expand := func(s string) string {
		return os.Expand(s, func(key string) string {
			if v, ok := scope[key]; ok {
				return v
			}
			if getenv != nil {
				if v := getenv(key); v != "" {
					return v
				}
			}
			missing = append(missing, key)
			return ""
		})
	}

	script := &SetupScript{Path: path, Env: make(map[string]string)}
	// Sorted so later entries may reference earlier ones deterministically.
	for _, k := range sortedKeys(doc.Env) {
		v := expand(doc.Env[k])
		scope[k] = v
		script.Env[k] = v
	}
	for _, p := range doc.SearchPaths {
		script.SearchPaths = append(script.SearchPaths, expand(p))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", path, ErrMissingEnv, strings.Join(missing, ", "))
	}
	return script, nil
}

// IsSyntaxError reports whether err came from an unsupported or invalid statement.
func IsSyntaxError(err error) bool {
	var perr *pyEvalError
	return errors.As(err, &perr)
}
