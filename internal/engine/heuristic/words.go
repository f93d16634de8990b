package heuristic

import (
	"strings"

	"unremark/internal/engine/parser"
)

var stopwords = set(
	"a", "an", "the", "of", "to", "for", "in", "on", "at", "by", "with", "from", "into", "and", "or",
	"is", "are", "be", "was", "this", "that", "these", "it", "its", "as", "here", "then", "now",
	"do", "does", "we", "our", "i", "my", "you", "your", "just", "some", "all", "each", "any",
	"new", "using", "use", "uses", "used", "get", "gets", "set", "sets", "return", "returns",
	"value", "values", "function", "method", "class", "variable", "field", "property", "call", "calls",
	"self", "will", "given", "current",
)

var markers = set(
	"because", "since", "why", "note", "notes", "nb", "warning", "caution", "important", "workaround",
	"hack", "todo", "fixme", "xxx", "see", "ref", "regex", "regexp", "pattern", "matches", "match",
	"example", "eg", "ie", "otherwise", "unless", "avoid", "avoids", "ensure", "ensures", "prevent",
	"prevents", "assume", "assumes", "assumption", "invariant", "must", "never", "always", "explain",
	"explaining", "explains", "bug", "issue", "deprecated", "rfc", "compat", "compatibility",
	"performance", "faster", "slower", "expensive", "cheap", "intentionally", "deliberately",
	"caveat", "edge", "legacy",
)

func set(words ...string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

// stem applies a light suffix strip so "checking", "checked" and "checks"
// compare equal to "check".
func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 5 && strings.HasSuffix(w, "ing"):
		return w[:len(w)-3]
	case len(w) > 4 && strings.HasSuffix(w, "ed"):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

// contentTokens are the stemmed, non-stopword words of a comment body in
// order of first appearance.
func contentTokens(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range parser.SplitWords(body) {
		if stopwords[w] || len(w) < 2 {
			continue
		}
		s := stem(w)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func stemSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		for _, part := range parser.SplitWords(w) {
			out[stem(part)] = true
		}
	}
	return out
}
