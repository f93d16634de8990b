package parser

import (
	"fmt"
	"strings"

	"unremark/internal/core/errors"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

const (
	maxSignatureLen = 240
	maxContextLen   = 2000
)

// Adapter is the per-language capability set used by the extractor and the
// rewrite validator. Adding a language means adding one Adapter.
type Adapter interface {
	Language() Language
	Parse(source []byte) (*Tree, error)
	CommentNodes(tree *Tree) []RawComment
	EnclosingConstruct(tree *Tree, offset int) *Construct
	Lexemes(tree *Tree) []Lexeme
}

// Tree is a parsed source buffer. Callers must Close it.
type Tree struct {
	Language Language
	Source   []byte
	inner    *sitter.Tree
	lines    *LineIndex
}

func (t *Tree) Root() *sitter.Node {
	if t == nil || t.inner == nil {
		return nil
	}
	return t.inner.RootNode()
}

func (t *Tree) HasError() bool {
	root := t.Root()
	return root == nil || root.HasError()
}

func (t *Tree) Lines() *LineIndex {
	if t.lines == nil {
		t.lines = NewLineIndex(t.Source)
	}
	return t.lines
}

func (t *Tree) Close() {
	if t != nil && t.inner != nil {
		t.inner.Close()
		t.inner = nil
	}
}

// profile holds the grammar-specific knowledge of one language.
type profile struct {
	language Language
	grammar  *sitter.Language

	comments   map[string]bool
	constructs map[string]ConstructKind
	// blocks are node kinds whose named children count as statements.
	blocks map[string]bool
	// scopes are construct kinds that contribute to Construct.Scope.
	scopes map[string]bool
	// identifiers are leaf kinds treated as names.
	identifiers map[string]bool

	// unwrap maps wrapper nodes (export, decorators) to the declaration they carry.
	unwrap func(node *sitter.Node) *sitter.Node
	// name overrides the generic name lookup when it returns non-empty.
	name func(ctx *nodeContext, node *sitter.Node) string
}

type treeAdapter struct {
	prof *profile
	pool *ParserPool
}

func newTreeAdapter(prof *profile) *treeAdapter {
	return &treeAdapter{prof: prof, pool: NewParserPool(prof.language, prof.grammar)}
}

func (a *treeAdapter) Language() Language { return a.prof.language }

func (a *treeAdapter) Parse(source []byte) (*Tree, error) {
	inner := a.pool.Parse(source)
	if inner == nil {
		return nil, errors.New(errors.CodeParseError, "parser returned no tree")
	}
	tree := &Tree{Language: a.prof.language, Source: source, inner: inner}
	root := inner.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		tree.Close()
		return nil, errors.AddContext(
			errors.New(errors.CodeParseError, fmt.Sprintf("%s source has syntax errors", a.prof.language)),
			errors.CtxLine, line,
		)
	}
	return tree, nil
}

func (a *treeAdapter) CommentNodes(tree *Tree) []RawComment {
	root := tree.Root()
	if root == nil {
		return nil
	}
	lines := tree.Lines()
	out := make([]RawComment, 0)
	engine := NewWalker(func(node *sitter.Node) bool {
		if !a.prof.comments[node.Kind()] {
			return false
		}
		start, end := int(node.StartByte()), int(node.EndByte())
		for end > start && (tree.Source[end-1] == '\n' || tree.Source[end-1] == '\r') {
			end--
		}
		if end <= start {
			return true
		}
		text := string(tree.Source[start:end])
		out = append(out, RawComment{
			Kind:     ClassifyCommentText(text),
			Bytes:    Span{Start: start, End: end},
			Lines:    Span{Start: lines.Row(start), End: lines.Row(end-1) + 1},
			NodeKind: node.Kind(),
		})
		return true
	})
	engine.Walk(root)
	return out
}

func (a *treeAdapter) EnclosingConstruct(tree *Tree, offset int) *Construct {
	root := tree.Root()
	if root == nil || offset < 0 || offset >= len(tree.Source) {
		return nil
	}
	node := root.NamedDescendantForByteRange(uint(offset), uint(offset))
	for node != nil {
		if a.prof.comments[node.Kind()] {
			node = node.Parent()
			continue
		}
		if kind, ok := a.constructKind(node); ok {
			return a.describe(tree, node, kind)
		}
		node = node.Parent()
	}
	return nil
}

func (a *treeAdapter) Lexemes(tree *Tree) []Lexeme {
	root := tree.Root()
	if root == nil {
		return nil
	}
	out := make([]Lexeme, 0, 256)
	engine := NewWalker(func(node *sitter.Node) bool {
		if a.prof.comments[node.Kind()] {
			return true
		}
		if node.ChildCount() == 0 {
			out = append(out, Lexeme{
				Kind: node.Kind(),
				Text: string(tree.Source[node.StartByte():node.EndByte()]),
			})
			return true
		}
		return false
	})
	engine.Walk(root)
	return out
}

func (a *treeAdapter) constructKind(node *sitter.Node) (ConstructKind, bool) {
	if node == nil || !node.IsNamed() {
		return "", false
	}
	if kind, ok := a.prof.constructs[node.Kind()]; ok {
		return kind, true
	}
	if parent := node.Parent(); parent != nil && a.prof.blocks[parent.Kind()] {
		return ConstructStatement, true
	}
	return "", false
}

func (a *treeAdapter) describe(tree *Tree, node *sitter.Node, kind ConstructKind) *Construct {
	ctx := &nodeContext{source: tree.Source, prof: a.prof}
	decl := node
	if a.prof.unwrap != nil {
		if inner := a.prof.unwrap(node); inner != nil {
			decl = inner
			if k, ok := a.prof.constructs[inner.Kind()]; ok {
				kind = k
			}
		}
	}

	scope := a.scopeNames(ctx, node)
	if kind == ConstructFunction && a.insideClass(node) {
		kind = ConstructMethod
	}

	// Attributes precede their item as siblings; the construct spans both.
	start, end := int(node.StartByte()), int(max(node.EndByte(), decl.EndByte()))
	text := string(tree.Source[start:end])
	lines := tree.Lines()
	c := &Construct{
		Kind:      kind,
		NodeKind:  decl.Kind(),
		Name:      ctx.Name(decl),
		Params:    ctx.Params(decl),
		Signature: ctx.Signature(decl),
		Scope:     scope,
		Context:   truncate(text, maxContextLen),
		Bytes:     Span{Start: start, End: end},
		Lines:     Span{Start: lines.Row(start), End: lines.Row(max(end-1, start)) + 1},
	}
	vocab := a.identifierWords(ctx, node)
	if decl.StartByte() >= node.EndByte() {
		vocab = append(vocab, a.identifierWords(ctx, decl)...)
	}
	for _, s := range scope {
		vocab = append(vocab, SplitWords(s)...)
	}
	c.Vocabulary = uniqueSorted(vocab)
	return c
}

// identifierWords splits the names and keywords under node into words.
// Literal contents and nested comments are left out.
func (a *treeAdapter) identifierWords(ctx *nodeContext, node *sitter.Node) []string {
	var words []string
	engine := NewWalker(func(n *sitter.Node) bool {
		if a.prof.comments[n.Kind()] {
			return true
		}
		if n.ChildCount() > 0 {
			return false
		}
		kind := n.Kind()
		switch {
		case a.prof.identifiers[kind], typeLeaves[kind]:
			words = append(words, SplitWords(ctx.Text(n))...)
		case !n.IsNamed() && isKeyword(kind):
			words = append(words, kind)
		}
		return true
	})
	engine.Walk(node)
	return words
}

// typeLeaves are builtin type names that grammars emit as named leaves.
var typeLeaves = map[string]bool{"primitive_type": true, "predefined_type": true}

func isKeyword(kind string) bool {
	if kind == "" {
		return false
	}
	for _, r := range kind {
		if (r < 'a' || r > 'z') && r != '_' {
			return false
		}
	}
	return true
}

func (a *treeAdapter) scopeNames(ctx *nodeContext, node *sitter.Node) []string {
	var names []string
	for p := node.Parent(); p != nil; p = p.Parent() {
		if !a.prof.scopes[p.Kind()] {
			continue
		}
		if name := ctx.Name(p); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (a *treeAdapter) insideClass(node *sitter.Node) bool {
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch a.prof.constructs[p.Kind()] {
		case ConstructClass, ConstructInterface:
			return true
		case ConstructFunction, ConstructMethod:
			return false
		}
	}
	return false
}

func firstErrorLine(node *sitter.Node) int {
	if node.IsError() || node.IsMissing() {
		return int(node.StartPosition().Row) + 1
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.HasError() {
			return firstErrorLine(child)
		}
	}
	return int(node.StartPosition().Row) + 1
}

// ClassifyCommentText decides Line/Block/Doc from the comment delimiters.
func ClassifyCommentText(text string) CommentKind {
	switch {
	case strings.HasPrefix(text, "///") && !strings.HasPrefix(text, "////"):
		return KindDoc
	case strings.HasPrefix(text, "//!"):
		return KindDoc
	case strings.HasPrefix(text, "/**") && !strings.HasPrefix(text, "/**/"):
		return KindDoc
	case strings.HasPrefix(text, "/*!"):
		return KindDoc
	case strings.HasPrefix(text, "/*"):
		return KindBlock
	}
	return KindLine
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
