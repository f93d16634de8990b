package rewrite

import (
	"strings"
	"testing"

	"unremark/internal/core/errors"
	"unremark/internal/engine/extractor"
	"unremark/internal/engine/parser"
)

func adapterFor(t *testing.T, lang parser.Language) parser.Adapter {
	t.Helper()
	gl, err := parser.NewGrammarLoader()
	if err != nil {
		t.Fatal(err)
	}
	a, ok := gl.Adapter(lang)
	if !ok {
		t.Fatalf("no adapter for %s", lang)
	}
	return a
}

// flag extracts the comments of src and returns those whose text contains
// one of the needles.
func flag(t *testing.T, a parser.Adapter, src string, needles ...string) []parser.Comment {
	t.Helper()
	tree, err := a.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Close()
	var out []parser.Comment
	for _, c := range extractor.Extract(a, tree, "t") {
		for _, n := range needles {
			if strings.Contains(c.Text, n) {
				out = append(out, c)
			}
		}
	}
	return out
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name    string
		lang    parser.Language
		src     string
		needles []string
		want    string
	}{
		{
			name:    "own line comment removes whole line",
			lang:    parser.LangJavaScript,
			src:     "class Car {\n  constructor(make) {\n    // Set the make property\n    this.make = make;\n  }\n}\n",
			needles: []string{"Set the make"},
			want:    "class Car {\n  constructor(make) {\n    this.make = make;\n  }\n}\n",
		},
		{
			name:    "trailing comment keeps terminator",
			lang:    parser.LangPython,
			src:     "class R:\n    def __init__(self, width):\n        self.width = width  # The width\n",
			needles: []string{"The width"},
			want:    "class R:\n    def __init__(self, width):\n        self.width = width\n",
		},
		{
			name:    "crlf own line",
			lang:    parser.LangPython,
			src:     "x = 1\r\n# Increment x\r\nx += 1\r\n",
			needles: []string{"Increment"},
			want:    "x = 1\r\nx += 1\r\n",
		},
		{
			name:    "crlf trailing",
			lang:    parser.LangRust,
			src:     "fn f() {\r\n    let a = 1; // the a\r\n}\r\n",
			needles: []string{"the a"},
			want:    "fn f() {\r\n    let a = 1;\r\n}\r\n",
		},
		{
			name:    "embedded block comment takes following space",
			lang:    parser.LangJavaScript,
			src:     "let n = /* the n */ 0;\n",
			needles: []string{"the n"},
			want:    "let n = 0;\n",
		},
		{
			name:    "embedded block comment at end takes preceding space",
			lang:    parser.LangJavaScript,
			src:     "f(a /* a */);\n",
			needles: []string{"/* a */"},
			want:    "f(a);\n",
		},
		{
			name:    "stacked comments second only",
			lang:    parser.LangTypeScript,
			src:     "// Useful comment explaining the type guard\n// Using typeof for runtime type checking\nfunction isString(value: unknown): boolean {\n  return typeof value === \"string\";\n}\n",
			needles: []string{"Using typeof"},
			want:    "// Useful comment explaining the type guard\nfunction isString(value: unknown): boolean {\n  return typeof value === \"string\";\n}\n",
		},
		{
			name:    "adjacent removals merge",
			lang:    parser.LangPython,
			src:     "# a\n# b\nx = 1\n",
			needles: []string{"# a", "# b"},
			want:    "x = 1\n",
		},
		{
			name:    "block comments sharing an otherwise empty line",
			lang:    parser.LangJavaScript,
			src:     "function f() {\n  /* a */ /* b */\n  return 1;\n}\n",
			needles: []string{"/* a */", "/* b */"},
			want:    "function f() {\n  return 1;\n}\n",
		},
		{
			name:    "one of two block comments on a line",
			lang:    parser.LangJavaScript,
			src:     "function f() {\n  /* a */ /* b */\n  return 1;\n}\n",
			needles: []string{"/* b */"},
			want:    "function f() {\n  /* a */\n  return 1;\n}\n",
		},
		{
			name:    "last line without newline",
			lang:    parser.LangPython,
			src:     "x = 1\n# end",
			needles: []string{"# end"},
			want:    "x = 1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := adapterFor(t, tt.lang)
			flagged := flag(t, a, tt.src, tt.needles...)
			if len(flagged) != len(tt.needles) {
				t.Fatalf("expected %d flagged comments, got %d", len(tt.needles), len(flagged))
			}
			res := Rewrite([]byte(tt.src), flagged)
			if got := string(res.Source); got != tt.want {
				t.Fatalf("got:\n%q\nwant:\n%q", got, tt.want)
			}
			if len(res.Removed) != len(tt.needles) || len(res.Skipped) != 0 {
				t.Fatalf("removed=%d skipped=%v", len(res.Removed), res.Skipped)
			}
			if err := Validate(a, []byte(tt.src), res.Source); err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestRewrite_SkipsUnsafeEmbeddedComment(t *testing.T) {
	a := adapterFor(t, parser.LangJavaScript)
	src := "let n = a/*x*/+b;\n"
	flagged := flag(t, a, src, "/*x*/")
	res := Rewrite([]byte(src), flagged)
	if res.Changed() || len(res.Skipped) != 1 {
		t.Fatalf("expected skip, got %+v", res)
	}
	if string(res.Source) != src {
		t.Fatal("source must be unchanged")
	}
}

func TestRewrite_SkipsStaleComment(t *testing.T) {
	c := parser.Comment{Text: "// gone", Bytes: parser.Span{Start: 0, End: 7}}
	res := Rewrite([]byte("let x = 1;\n"), []parser.Comment{c})
	if res.Changed() || len(res.Skipped) != 1 {
		t.Fatalf("stale comment should be skipped: %+v", res)
	}
}

func TestRewrite_NothingFlaggedIsIdentity(t *testing.T) {
	src := []byte("fn main() {} // keep\n")
	res := Rewrite(src, nil)
	if string(res.Source) != string(src) || res.Changed() {
		t.Fatal("expected identity")
	}
}

func TestRewrite_Idempotent(t *testing.T) {
	a := adapterFor(t, parser.LangPython)
	src := "def greet(name):\n    # Print hello\n    print(name)  # print it\n"
	first := Rewrite([]byte(src), flag(t, a, src, "Print hello", "print it"))

	again := Rewrite(first.Source, flag(t, a, string(first.Source), "Print hello", "print it"))
	if again.Changed() {
		t.Fatal("second rewrite should find nothing to remove")
	}
	if string(again.Source) != string(first.Source) {
		t.Fatal("second rewrite changed the source")
	}
}

func TestValidate_DetectsTokenChange(t *testing.T) {
	a := adapterFor(t, parser.LangJavaScript)
	err := Validate(a, []byte("let a = 1;\n"), []byte("let a = 2;\n"))
	if !errors.IsCode(err, errors.CodeRewriteViolation) {
		t.Fatalf("expected violation, got %v", err)
	}
	err = Validate(a, []byte("let a = 1;\n"), []byte("let a = ;\n"))
	if !errors.IsCode(err, errors.CodeRewriteViolation) {
		t.Fatalf("expected violation for broken syntax, got %v", err)
	}
}

func TestValidate_IgnoresCommentsAndWhitespace(t *testing.T) {
	a := adapterFor(t, parser.LangRust)
	err := Validate(a, []byte("// a\nfn f() { /* b */ }\n"), []byte("fn f() {  }\n"))
	if err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
}
