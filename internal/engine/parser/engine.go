package parser

import (
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Visitor is called for every node in document order. Returning true skips
// the node's children.
type Visitor func(node *sitter.Node) bool

// Walker performs a depth-first, document-order traversal.
type Walker struct {
	visit Visitor
}

func NewWalker(visit Visitor) *Walker {
	return &Walker{visit: visit}
}

func (w *Walker) Walk(node *sitter.Node) {
	if node == nil {
		return
	}
	if w.visit(node) {
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		w.Walk(node.Child(i))
	}
}

// nodeContext carries the source and profile while describing a construct.
type nodeContext struct {
	source []byte
	prof   *profile
}

func (c *nodeContext) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(c.source[node.StartByte():node.EndByte()])
}

// Name resolves the identifier a construct is known by.
func (c *nodeContext) Name(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	if c.prof.name != nil {
		if name := c.prof.name(c, node); name != "" {
			return name
		}
	}
	for _, field := range []string{"name", "left", "pattern", "declarator", "function", "macro", "type", "argument"} {
		if child := node.ChildByFieldName(field); child != nil {
			if name := c.LastIdentifier(child); name != "" {
				return name
			}
		}
	}
	if node.NamedChildCount() == 1 {
		return c.Name(node.NamedChild(0))
	}
	return c.FirstIdentifier(node)
}

// LastIdentifier returns the right-most name of a possibly qualified expression
// (this.make -> make, self.width -> width, a::b::c -> c).
func (c *nodeContext) LastIdentifier(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	if c.prof.identifiers[node.Kind()] {
		return c.Text(node)
	}
	for _, field := range []string{"property", "attribute", "field", "name"} {
		if child := node.ChildByFieldName(field); child != nil && c.prof.identifiers[child.Kind()] {
			return c.Text(child)
		}
	}
	for _, field := range []string{"name", "left", "pattern", "function"} {
		if child := node.ChildByFieldName(field); child != nil {
			if name := c.LastIdentifier(child); name != "" {
				return name
			}
		}
	}
	last := ""
	NewWalker(func(n *sitter.Node) bool {
		if c.prof.identifiers[n.Kind()] {
			last = c.Text(n)
			return true
		}
		return false
	}).Walk(node)
	return last
}

func (c *nodeContext) FirstIdentifier(node *sitter.Node) string {
	first := ""
	NewWalker(func(n *sitter.Node) bool {
		if first != "" {
			return true
		}
		if c.prof.comments[n.Kind()] {
			return true
		}
		if c.prof.identifiers[n.Kind()] {
			first = c.Text(n)
			return true
		}
		return false
	}).Walk(node)
	return first
}

// Params lists parameter names of callable constructs.
func (c *nodeContext) Params(node *sitter.Node) []string {
	params := node.ChildByFieldName("parameters")
	if params == nil {
		// Arrow functions and closures bound to a variable carry them one level down.
		if value := node.ChildByFieldName("value"); value != nil {
			params = value.ChildByFieldName("parameters")
		} else if decl := firstNamedChildOfKind(node, "variable_declarator"); decl != nil {
			if value := decl.ChildByFieldName("value"); value != nil {
				params = value.ChildByFieldName("parameters")
			}
		}
	}
	if params == nil {
		return nil
	}
	var out []string
	for i := uint(0); i < params.NamedChildCount(); i++ {
		p := params.NamedChild(i)
		if p == nil || c.prof.comments[p.Kind()] {
			continue
		}
		name := ""
		for _, field := range []string{"pattern", "name"} {
			if child := p.ChildByFieldName(field); child != nil {
				name = c.FirstIdentifier(child)
				break
			}
		}
		if name == "" {
			name = c.FirstIdentifier(p)
		}
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Signature is the construct header with whitespace collapsed: the text up to
// its body, or its first line when it has no body.
func (c *nodeContext) Signature(node *sitter.Node) string {
	text := c.Text(node)
	if body := node.ChildByFieldName("body"); body != nil && body.StartByte() > node.StartByte() {
		text = string(c.source[node.StartByte():body.StartByte()])
	} else if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = NormalizeSpace(text)
	text = strings.TrimRight(text, " {:")
	return truncate(text, maxSignatureLen)
}

func firstNamedChildOfKind(node *sitter.Node, kind string) *sitter.Node {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child != nil && child.Kind() == kind {
			return child
		}
	}
	return nil
}

// LineIndex maps byte offsets to 0-based rows.
type LineIndex struct {
	starts []int
	size   int
}

func NewLineIndex(source []byte) *LineIndex {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(source)}
}

func (l *LineIndex) Row(offset int) int {
	return sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
}

// LineStart returns the offset of the first byte of row.
func (l *LineIndex) LineStart(row int) int {
	if row < 0 {
		return 0
	}
	if row >= len(l.starts) {
		return l.size
	}
	return l.starts[row]
}

func (l *LineIndex) Count() int { return len(l.starts) }
