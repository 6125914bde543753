package render

import (
	"html"
	"sort"
	"strings"
)

// Vars are the values available to a template
type Vars map[string]string

// Truthy reports whether name is set to a value other than "", "false" or "0"
func (v Vars) Truthy(name string) bool {
	val, ok := v[name]
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "false", "0":
		return false
	}
	return true
}

// Escaper transforms a {{var}} value before it is written
type Escaper func(string) string

var (
	// HTMLEscape is used for html bodies
	HTMLEscape Escaper = html.EscapeString
	// NoEscape is used for subjects and plain text
	NoEscape Escaper = func(s string) string { return s }
)

type node interface {
	exec(b *strings.Builder, vars Vars, esc Escaper)
	walk(fn func(name string))
}

type textNode string

func (n textNode) exec(b *strings.Builder, _ Vars, _ Escaper) { b.WriteString(string(n)) }
func (n textNode) walk(func(string))                         {}

type varNode struct {
	name string
	raw  bool
	src  string
}

// exec leaves unknown variables untouched so the gate can detect them
func (n *varNode) exec(b *strings.Builder, vars Vars, esc Escaper) {
	val, ok := vars[n.name]
	if !ok {
		b.WriteString(n.src)
		return
	}
	if n.raw || isFooterPlaceholder(n.name) {
		b.WriteString(val)
		return
	}
	b.WriteString(esc(val))
}

func (n *varNode) walk(fn func(string)) { fn(n.name) }

type ifNode struct {
	name string
	then []node
	els  []node
}

func (n *ifNode) exec(b *strings.Builder, vars Vars, esc Escaper) {
	branch := n.els
	if vars.Truthy(n.name) {
		branch = n.then
	}
	for _, child := range branch {
		child.exec(b, vars, esc)
	}
}

func (n *ifNode) walk(fn func(string)) {
	fn(n.name)
	for _, child := range n.then {
		child.walk(fn)
	}
	for _, child := range n.els {
		child.walk(fn)
	}
}

// Execute renders the template against vars
func (t *Template) Execute(vars Vars, esc Escaper) string {
	if esc == nil {
		esc = NoEscape
	}
	var b strings.Builder
	b.Grow(len(t.source))
	for _, n := range t.nodes {
		n.exec(&b, vars, esc)
	}
	return b.String()
}

// Placeholders returns the sorted set of variable names the template references,
// including conditional block names
func (t *Template) Placeholders() []string {
	seen := map[string]bool{}
	for _, n := range t.nodes {
		n.walk(func(name string) { seen[name] = true })
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// References reports whether the template uses any of the given names
func (t *Template) References(names ...string) bool {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	found := false
	for _, n := range t.nodes {
		n.walk(func(name string) {
			if want[name] {
				found = true
			}
		})
	}
	return found
}

// Substitute parses and executes src in one step
func Substitute(src string, vars Vars, esc Escaper) (string, error) {
	t, err := Parse(src)
	if err != nil {
		return "", err
	}
	return t.Execute(vars, esc), nil
}
