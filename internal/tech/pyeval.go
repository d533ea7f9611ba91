package tech

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ValueKind tags a Value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindList   ValueKind = "list"
)

// Value is a constant read from a Python technology file.
type Value struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	List []Value   `json:"list,omitempty"`
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return ""
}

func stringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func numberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// pyEvalError reports an expression the evaluator does not understand.
type pyEvalError struct {
	Line int
	Expr string
	Msg  string
}

func (e *pyEvalError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Msg, e.Expr)
}

// pyEnv is the evaluation scope of a tech file: module-level names and the
// process environment as seen through os.environ.
type pyEnv struct {
	src     []byte
	names   map[string]Value
	environ map[string]string
	getenv  func(string) string
}

func newPyEnv(src []byte, environ map[string]string, getenv func(string) string) *pyEnv {
	return &pyEnv{
		src:     src,
		names:   make(map[string]Value),
		environ: environ,
		getenv:  getenv,
	}
}

func (e *pyEnv) lookupEnv(key string) (string, bool) {
	if v, ok := e.environ[key]; ok {
		return v, true
	}
	if e.getenv != nil {
		if v := e.getenv(key); v != "" {
			return v, true
		}
	}
	return "", false
}

func parsePython(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return tree, nil
}

// statements returns the top-level expression statements' inner nodes.
func statements(root *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
			continue
		}
		out = append(out, stmt.NamedChild(0))
	}
	return out
}

func (e *pyEnv) text(n *sitter.Node) string {
	return n.Content(e.src)
}

func (e *pyEnv) fail(n *sitter.Node, msg string) error {
	return &pyEvalError{Line: int(n.StartPoint().Row) + 1, Expr: e.text(n), Msg: msg}
}

func (e *pyEnv) eval(n *sitter.Node) (Value, error) {
	switch n.Type() {
	case "string":
		s, err := pyStringLiteral(e.text(n))
		if err != nil {
			return Value{}, e.fail(n, err.Error())
		}
		return stringValue(s), nil
	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v, err := e.eval(n.NamedChild(i))
			if err != nil {
				return Value{}, err
			}
			b.WriteString(v.Str)
		}
		return stringValue(b.String()), nil
	case "integer", "float":
		f, err := strconv.ParseFloat(strings.ReplaceAll(e.text(n), "_", ""), 64)
		if err != nil {
			return Value{}, e.fail(n, "bad number")
		}
		return numberValue(f), nil
	case "true":
		return numberValue(1), nil
	case "false":
		return numberValue(0), nil
	case "parenthesized_expression":
		if n.NamedChildCount() != 1 {
			return Value{}, e.fail(n, "unsupported expression")
		}
		return e.eval(n.NamedChild(0))
	case "tuple", "list":
		out := Value{Kind: KindList, List: []Value{}}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v, err := e.eval(n.NamedChild(i))
			if err != nil {
				return Value{}, err
			}
			out.List = append(out.List, v)
		}
		return out, nil
	case "identifier":
		name := e.text(n)
		if v, ok := e.names[name]; ok {
			return v, nil
		}
		return Value{}, e.fail(n, "undefined name")
	case "unary_operator":
		arg := n.ChildByFieldName("argument")
		op := n.ChildByFieldName("operator")
		if arg == nil || op == nil {
			return Value{}, e.fail(n, "unsupported expression")
		}
		v, err := e.eval(arg)
		if err != nil {
			return Value{}, err
		}
		if v.Kind != KindNumber {
			return Value{}, e.fail(n, "unary operator on non-number")
		}
		if e.text(op) == "-" {
			v.Num = -v.Num
		}
		return v, nil
	case "binary_operator":
		return e.evalBinary(n)
	case "subscript":
		return e.evalSubscript(n)
	case "call":
		return e.evalCall(n)
	}
	return Value{}, e.fail(n, "unsupported expression")
}

func (e *pyEnv) evalBinary(n *sitter.Node) (Value, error) {
	left, right, op := n.ChildByFieldName("left"), n.ChildByFieldName("right"), n.ChildByFieldName("operator")
	if left == nil || right == nil || op == nil {
		return Value{}, e.fail(n, "unsupported expression")
	}
	lv, err := e.eval(left)
	if err != nil {
		return Value{}, err
	}
	rv, err := e.eval(right)
	if err != nil {
		return Value{}, err
	}
	operator := e.text(op)
	if lv.Kind == KindString && rv.Kind == KindString && operator == "+" {
		return stringValue(lv.Str + rv.Str), nil
	}
	if lv.Kind != KindNumber || rv.Kind != KindNumber {
		return Value{}, e.fail(n, "operator "+operator+" on mixed operands")
	}
	switch operator {
	case "+":
		return numberValue(lv.Num + rv.Num), nil
	case "-":
		return numberValue(lv.Num - rv.Num), nil
	case "*":
		return numberValue(lv.Num * rv.Num), nil
	case "/":
		if rv.Num == 0 {
			return Value{}, e.fail(n, "division by zero")
		}
		return numberValue(lv.Num / rv.Num), nil
	}
	return Value{}, e.fail(n, "unsupported operator "+operator)
}

// evalSubscript handles os.environ["K"].
func (e *pyEnv) evalSubscript(n *sitter.Node) (Value, error) {
	value := n.ChildByFieldName("value")
	key := n.ChildByFieldName("subscript")
	if value == nil || key == nil || e.text(value) != "os.environ" {
		return Value{}, e.fail(n, "unsupported subscript")
	}
	k, err := e.eval(key)
	if err != nil {
		return Value{}, err
	}
	if v, ok := e.lookupEnv(k.Str); ok {
		return stringValue(v), nil
	}
	return Value{}, e.fail(n, fmt.Sprintf("environment variable %s is not set", k.Str))
}

func (e *pyEnv) evalCall(n *sitter.Node) (Value, error) {
	fn := n.ChildByFieldName("function")
	argList := n.ChildByFieldName("arguments")
	if fn == nil || argList == nil {
		return Value{}, e.fail(n, "unsupported call")
	}
	var args []Value
	for i := 0; i < int(argList.NamedChildCount()); i++ {
		arg := argList.NamedChild(i)
		if arg.Type() == "keyword_argument" || arg.Type() == "comment" {
			continue
		}
		v, err := e.eval(arg)
		if err != nil {
			return Value{}, err
		}
		args = append(args, v)
	}

	switch e.text(fn) {
	case "os.path.join":
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.Str
		}
		return stringValue(joinPath(parts)), nil
	case "os.path.abspath", "os.path.normpath":
		if len(args) != 1 {
			return Value{}, e.fail(n, "expected one argument")
		}
		return stringValue(path.Clean(args[0].Str)), nil
	case "str":
		if len(args) != 1 {
			return Value{}, e.fail(n, "expected one argument")
		}
		return stringValue(args[0].String()), nil
	case "os.environ.get", "os.getenv":
		if len(args) == 0 {
			return Value{}, e.fail(n, "missing variable name")
		}
		if v, ok := e.lookupEnv(args[0].Str); ok {
			return stringValue(v), nil
		}
		if len(args) > 1 {
			return args[1], nil
		}
		return stringValue(""), nil
	}
	return Value{}, e.fail(n, "unsupported call")
}

// joinPath mirrors os.path.join: an absolute component restarts the path.
func joinPath(parts []string) string {
	out := ""
	for _, p := range parts {
		switch {
		case strings.HasPrefix(p, "/"):
			out = p
		case out == "" || strings.HasSuffix(out, "/"):
			out += p
		default:
			out += "/" + p
		}
	}
	return out
}

// pyStringLiteral decodes a (non-f) Python string literal.
func pyStringLiteral(lit string) (string, error) {
	i := 0
	raw := false
	for i < len(lit) && strings.ContainsRune("rRbBuUfF", rune(lit[i])) {
		switch lit[i] {
		case 'r', 'R':
			raw = true
		case 'f', 'F':
			return "", fmt.Errorf("f-strings are not supported")
		}
		i++
	}
	body := lit[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(q) && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			body = body[len(q) : len(body)-len(q)]
			if raw {
				return body, nil
			}
			return unescape(body), nil
		}
	}
	return "", fmt.Errorf("malformed string literal")
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '\\', '\'', '"':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
