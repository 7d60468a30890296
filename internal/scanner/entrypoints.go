package scanner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"gopkg.in/ini.v1"
)

// entryMap maps a command name to its targets ("pkg.module:function").
type entryMap map[string][]string

func (m entryMap) add(name, target string) {
	name = strings.TrimSpace(name)
	target = strings.TrimSpace(target)
	if name == "" || target == "" {
		return
	}
	m[name] = append(m[name], target)
}

// addSpec adds a "name = target" declaration.
func (m entryMap) addSpec(spec string) {
	name, target, ok := strings.Cut(spec, "=")
	if !ok {
		return
	}
	m.add(name, target)
}

// addINI adds declarations written in entry_points.txt form, where
// "[group]" headers separate blocks of "name = target" lines.
func (m entryMap) addINI(text string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		m.addSpec(line)
	}
}

// entrySource reads one declarative file. A nil or empty map means the
// source contributed nothing.
type entrySource func(root string) entryMap

// Sources in increasing priority.
var entrySources = []entrySource{
	setupPyEntrypoints,
	setupCfgEntrypoints,
	pyprojectEntrypoints,
}

// DetectEntrypoints reads setup.py, setup.cfg and pyproject.toml under root.
// Each source is authoritative for the commands it declares: declarations
// within one source accumulate, and a later source replaces the whole target
// list of any command it also declares.
func DetectEntrypoints(root string) map[string][]string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return map[string][]string{}
	}
	return detectEntrypoints(abs)
}

func detectEntrypoints(root string) map[string][]string {
	merged := make(map[string][]string)
	for _, source := range entrySources {
		for name, targets := range source(root) {
			if len(targets) == 0 {
				continue
			}
			merged[name] = targets
		}
	}
	return merged
}

// Callees recognised as the packaging setup() call.
var setupCallees = map[string]bool{
	"setup":            true,
	"setuptools.setup": true,
	"distutils.setup":  true,
}

// setupPyEntrypoints statically reads entry_points from setup.py. The
// script is parsed, never imported or executed; any failure yields nothing.
func setupPyEntrypoints(root string) entryMap {
	path := filepath.Join(root, "setup.py")
	if !fileExists(path) {
		return nil
	}
	text, err := readText(path)
	if err != nil {
		return nil
	}
	eps, err := parseSetupPy([]byte(text))
	if err != nil {
		return nil
	}
	return eps
}

func parseSetupPy(src []byte) (eps entryMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			eps = nil
			err = fmt.Errorf("setup.py walk failed: %v", r)
		}
	}()

	tree, err := parsePython(src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	assigns := moduleAssignments(root, src)

	var value *sitter.Node
	walk(root, func(n *sitter.Node) {
		if value != nil || n.Type() != "call" {
			return
		}
		callee, ok := dottedName(n.ChildByFieldName("function"), src)
		if !ok || !setupCallees[callee] {
			return
		}
		value = keywordArgument(n, "entry_points", src)
	})
	if value == nil {
		value = assigns["entry_points"]
	}
	// Follow `entry_points=ENTRY_POINTS` style indirection through module
	// level assignments; the bound stops self-referencing cycles.
	for i := 0; value != nil && value.Type() == "identifier" && i < 8; i++ {
		value = assigns[value.Content(src)]
	}

	eps = entryMap{}
	if value == nil {
		return eps, nil
	}
	if s, ok := pythonString(value, src); ok {
		eps.addINI(s)
		return eps, nil
	}
	if value.Type() != "dictionary" {
		return eps, nil
	}
	for i := 0; i < int(value.NamedChildCount()); i++ {
		pair := value.NamedChild(i)
		if pair.Type() != "pair" {
			continue
		}
		group := pair.ChildByFieldName("value")
		for k := 0; group != nil && group.Type() == "identifier" && k < 8; k++ {
			group = assigns[group.Content(src)]
		}
		if group == nil {
			continue
		}
		if s, ok := pythonString(group, src); ok {
			eps.addINI(s)
			continue
		}
		if group.Type() != "list" && group.Type() != "tuple" {
			continue
		}
		for j := 0; j < int(group.NamedChildCount()); j++ {
			if s, ok := pythonString(group.NamedChild(j), src); ok {
				eps.addSpec(s)
			}
		}
	}
	return eps, nil
}

// moduleAssignments indexes top-level `name = value` statements.
func moduleAssignments(root *sitter.Node, src []byte) map[string]*sitter.Node {
	assigns := make(map[string]*sitter.Node)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
			continue
		}
		asg := stmt.NamedChild(0)
		if asg.Type() != "assignment" {
			continue
		}
		left := asg.ChildByFieldName("left")
		right := asg.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" {
			continue
		}
		assigns[left.Content(src)] = right
	}
	return assigns
}

func keywordArgument(call *sitter.Node, name string, src []byte) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		if key := arg.ChildByFieldName("name"); key != nil && key.Content(src) == name {
			return arg.ChildByFieldName("value")
		}
	}
	return nil
}

// pythonString returns the value of a plain or implicitly concatenated
// string literal. f-strings and byte strings are rejected.
func pythonString(n *sitter.Node, src []byte) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "string":
		return literalValue(n.Content(src))
	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			s, ok := pythonString(n.NamedChild(i), src)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return pythonString(n.NamedChild(0), src)
		}
	}
	return "", false
}

func literalValue(lit string) (string, bool) {
	i := 0
	for i < len(lit) && strings.ContainsRune("rRuUbBfF", rune(lit[i])) {
		i++
	}
	prefix := strings.ToLower(lit[:i])
	if strings.ContainsAny(prefix, "fb") {
		return "", false
	}
	body := lit[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(q) && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			return body[len(q) : len(body)-len(q)], true
		}
	}
	return "", false
}

// setupCfgEntrypoints reads [options.entry_points] and [entry_points*]
// sections. A key whose value holds "name = target" lines is a group; a key
// with a plain target value is itself the command name.
func setupCfgEntrypoints(root string) entryMap {
	path := filepath.Join(root, "setup.cfg")
	if !fileExists(path) {
		return nil
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
		SkipUnrecognizableLines:    true,
	}, path)
	if err != nil {
		return nil
	}

	eps := entryMap{}
	for _, sec := range cfg.Sections() {
		name := strings.ToLower(sec.Name())
		if name != "options.entry_points" && !strings.HasPrefix(name, "entry_points") {
			continue
		}
		for _, key := range sec.Keys() {
			value := key.Value()
			if strings.Contains(value, "=") {
				eps.addINI(value)
				continue
			}
			eps.add(key.Name(), value)
		}
	}
	return eps
}

type pyprojectFile struct {
	Project struct {
		Scripts    map[string]any `toml:"scripts"`
		GUIScripts map[string]any `toml:"gui-scripts"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Scripts map[string]any `toml:"scripts"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// pyprojectEntrypoints reads [project.scripts], [project.gui-scripts] and
// [tool.poetry.scripts]. A manifest that does not parse contributes nothing.
func pyprojectEntrypoints(root string) entryMap {
	path := filepath.Join(root, "pyproject.toml")
	if !fileExists(path) {
		return nil
	}
	text, err := readText(path)
	if err != nil {
		return nil
	}
	var doc pyprojectFile
	if err := toml.Unmarshal([]byte(text), &doc); err != nil {
		return nil
	}

	eps := entryMap{}
	for _, table := range []map[string]any{
		doc.Project.Scripts,
		doc.Project.GUIScripts,
		doc.Tool.Poetry.Scripts,
	} {
		for _, name := range sortedKeys(table) {
			switch v := table[name].(type) {
			case string:
				eps.add(name, v)
			case map[string]any:
				if callable, ok := v["callable"].(string); ok {
					eps.add(name, callable)
				}
			}
		}
	}
	return eps
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
