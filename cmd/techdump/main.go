// techdump prints the tree-sitter view of a Python technology or setup file,
// to see why a statement is rejected by the tech reader.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func main() {
	depth := flag.Int("depth", 3, "maximum tree depth to print")
	line := flag.Int("line", 0, "only show the statement on this line")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: techdump [--depth n] [--line n] <tech.py>")
		os.Exit(1)
	}

	source, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	root := tree.RootNode()
	if root.HasError() {
		fmt.Println("warning: file has syntax errors")
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		start := int(stmt.StartPoint().Row) + 1
		if *line != 0 && start != *line {
			continue
		}
		fmt.Printf("line %d: %s\n", start, firstLine(stmt.Content(source)))
		dump(stmt, source, "", 1, *depth)
	}
}

func dump(n *sitter.Node, source []byte, field string, level, maxDepth int) {
	indent := strings.Repeat("  ", level)
	label := n.Type()
	if field != "" {
		label = field + ": " + label
	}
	if n.ChildCount() == 0 || level == maxDepth {
		fmt.Printf("%s%s %q\n", indent, label, n.Content(source))
		return
	}
	fmt.Printf("%s%s\n", indent, label)
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if !child.IsNamed() {
			continue
		}
		dump(child, source, n.FieldNameForChild(i), level+1, maxDepth)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
