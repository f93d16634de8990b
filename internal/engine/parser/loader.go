package parser

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"unremark/internal/core/errors"
	"unremark/internal/shared/util"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// LanguageSpec describes how a language is detected and whether it is active.
type LanguageSpec struct {
	ID         Language
	Enabled    bool
	Extensions []string
}

// DefaultLanguageRegistry returns the built-in language table.
func DefaultLanguageRegistry() map[Language]LanguageSpec {
	return map[Language]LanguageSpec{
		LangJavaScript: {ID: LangJavaScript, Enabled: true, Extensions: []string{".js", ".jsx", ".mjs", ".cjs"}},
		LangTypeScript: {ID: LangTypeScript, Enabled: true, Extensions: []string{".ts", ".mts", ".cts"}},
		LangTSX:        {ID: LangTSX, Enabled: true, Extensions: []string{".tsx"}},
		LangPython:     {ID: LangPython, Enabled: true, Extensions: []string{".py", ".pyi"}},
		LangRust:       {ID: LangRust, Enabled: true, Extensions: []string{".rs"}},
	}
}

// GrammarLoader owns the compiled grammars and the adapter for each enabled language.
type GrammarLoader struct {
	registry   map[Language]LanguageSpec
	adapters   map[Language]Adapter
	extensions map[string]Language
}

func NewGrammarLoader() (*GrammarLoader, error) {
	return NewGrammarLoaderWithRegistry(nil)
}

func NewGrammarLoaderWithRegistry(registry map[Language]LanguageSpec) (*GrammarLoader, error) {
	if registry == nil {
		registry = DefaultLanguageRegistry()
	}

	gl := &GrammarLoader{
		registry:   make(map[Language]LanguageSpec, len(registry)),
		adapters:   make(map[Language]Adapter),
		extensions: make(map[string]Language),
	}

	for _, key := range util.SortedStringKeys(stringKeyed(registry)) {
		lang := Language(key)
		spec := registry[lang]
		spec.ID = lang
		gl.registry[lang] = spec
		if !spec.Enabled {
			continue
		}

		var prof *profile
		switch lang {
		case LangJavaScript:
			prof = javascriptProfile(sitter.NewLanguage(tree_sitter_javascript.Language()))
		case LangTypeScript:
			prof = typescriptProfile(LangTypeScript, sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()))
		case LangTSX:
			prof = typescriptProfile(LangTSX, sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()))
		case LangPython:
			prof = pythonProfile(sitter.NewLanguage(tree_sitter_python.Language()))
		case LangRust:
			prof = rustProfile(sitter.NewLanguage(tree_sitter_rust.Language()))
		default:
			return nil, errors.New(errors.CodeNotSupported, fmt.Sprintf("language %q is enabled but no grammar is bundled", lang))
		}
		gl.adapters[lang] = newTreeAdapter(prof)

		for _, ext := range spec.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			gl.extensions[ext] = lang
		}
	}

	return gl, nil
}

// Adapter returns the adapter registered for lang.
func (gl *GrammarLoader) Adapter(lang Language) (Adapter, bool) {
	a, ok := gl.adapters[lang]
	return a, ok
}

// DetectLanguage maps a path to a language by extension; "" when unsupported.
func (gl *GrammarLoader) DetectLanguage(path string) Language {
	ext := strings.ToLower(filepath.Ext(path))
	return gl.extensions[ext]
}

func (gl *GrammarLoader) IsSupportedPath(path string) bool {
	return gl.DetectLanguage(path) != ""
}

func (gl *GrammarLoader) SupportedExtensions() []string {
	exts := make([]string, 0, len(gl.extensions))
	for ext := range gl.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (gl *GrammarLoader) Languages() []Language {
	out := make([]Language, 0, len(gl.adapters))
	for _, key := range util.SortedStringKeys(stringKeyed(gl.adapters)) {
		out = append(out, Language(key))
	}
	return out
}

// ParserStats reports the parser pool of every enabled language.
func (gl *GrammarLoader) ParserStats() map[Language]PoolStats {
	out := make(map[Language]PoolStats, len(gl.adapters))
	for lang, a := range gl.adapters {
		if ta, ok := a.(*treeAdapter); ok {
			out[lang] = ta.pool.Stats()
		}
	}
	return out
}

func stringKeyed[T any](m map[Language]T) map[string]T {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
