package scanner

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Callee names that mark a file as building an argparse CLI.
var argparseConstructors = map[string]bool{
	"ArgumentParser":          true,
	"argparse.ArgumentParser": true,
}

// Statement forms the grammar still accepts but Python 3 rejects, with the
// statement keyword each one starts with.
var legacyStatements = map[string]string{
	"print_statement": "print",
	"exec_statement":  "exec",
}

// parsePython parses src with a fresh parser. Parsers are not safe for
// concurrent use, so none is shared.
func parsePython(src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())
	return parser.ParseCtx(context.Background(), nil, src)
}

// ParseDefinitions extracts classes, functions, imports and argparse usage
// from Python source. filename only labels errors.
func ParseDefinitions(src []byte, filename string) (info ModuleInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = ModuleInfo{}
			err = &ParseError{File: filename, Msg: fmt.Sprintf("syntax tree walk failed: %v", r)}
		}
	}()

	tree, err := parsePython(src)
	if err != nil {
		return ModuleInfo{}, &ParseError{File: filename, Msg: err.Error()}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return ModuleInfo{}, syntaxError(root, filename)
	}

	var legacy *sitter.Node
	info = ModuleInfo{
		Classes:   []string{},
		Functions: []string{},
		Imports:   []string{},
	}
	walk(root, func(n *sitter.Node) {
		if _, ok := legacyStatements[n.Type()]; ok && legacy == nil {
			legacy = n
		}
		switch n.Type() {
		case "class_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				info.Classes = append(info.Classes, name.Content(src))
			}
		case "function_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				info.Functions = append(info.Functions, name.Content(src))
			}
		case "import_statement":
			info.Imports = append(info.Imports, importedNames(n, src)...)
		case "import_from_statement":
			info.Imports = append(info.Imports, fromImportRoot(n, src))
		case "future_import_statement":
			info.Imports = append(info.Imports, "__future__")
		case "call":
			if callee, ok := dottedName(n.ChildByFieldName("function"), src); ok && argparseConstructors[callee] {
				info.UsesArgparse = true
			}
		}
	})
	if legacy != nil {
		pos := legacy.StartPoint()
		return ModuleInfo{}, &ParseError{
			File:   filename,
			Line:   int(pos.Row) + 1,
			Column: int(pos.Column) + 1,
			Msg:    fmt.Sprintf("invalid syntax: missing parentheses in call to '%s'", legacyStatements[legacy.Type()]),
		}
	}
	return info, nil
}

// walk visits n and every named descendant exactly once, parents first.
func walk(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

// importedNames returns each module named by `import a.b, c as d`.
func importedNames(n *sitter.Node, src []byte) []string {
	var names []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			names = append(names, compact(child.Content(src)))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				names = append(names, compact(name.Content(src)))
			}
		}
	}
	return names
}

// fromImportRoot returns the leftmost segment of the module in
// `from x.y import z`. A bare relative import (`from . import z`) yields "".
func fromImportRoot(n *sitter.Node, src []byte) string {
	mod := n.ChildByFieldName("module_name")
	if mod == nil {
		return ""
	}
	if mod.Type() == "relative_import" {
		var dotted *sitter.Node
		for i := 0; i < int(mod.NamedChildCount()); i++ {
			if c := mod.NamedChild(i); c.Type() == "dotted_name" {
				dotted = c
				break
			}
		}
		if dotted == nil {
			return ""
		}
		mod = dotted
	}
	name := compact(mod.Content(src))
	root, _, _ := strings.Cut(name, ".")
	return root
}

// dottedName resolves identifier and attribute chains such as
// argparse.ArgumentParser. Any other callee shape is unresolvable.
func dottedName(n *sitter.Node, src []byte) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "identifier":
		return n.Content(src), true
	case "attribute":
		left, ok := dottedName(n.ChildByFieldName("object"), src)
		if !ok {
			return "", false
		}
		attr := n.ChildByFieldName("attribute")
		if attr == nil {
			return "", false
		}
		return left + "." + attr.Content(src), true
	}
	return "", false
}

// syntaxError locates the first ERROR or MISSING node under root.
func syntaxError(root *sitter.Node, filename string) *ParseError {
	bad := firstErrorNode(root)
	if bad == nil {
		return &ParseError{File: filename, Msg: "invalid syntax"}
	}
	msg := "invalid syntax"
	if bad.IsMissing() {
		msg = fmt.Sprintf("invalid syntax: missing %q", bad.Type())
	}
	pos := bad.StartPoint()
	return &ParseError{
		File:   filename,
		Line:   int(pos.Row) + 1,
		Column: int(pos.Column) + 1,
		Msg:    msg,
	}
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if bad := firstErrorNode(child); bad != nil {
			return bad
		}
	}
	return nil
}

// compact drops whitespace inside dotted names (`a . b` is legal Python).
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
