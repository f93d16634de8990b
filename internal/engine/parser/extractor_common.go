package parser

import (
	"sort"
	"strings"
	"unicode"
)

// SplitWords lower-cases text and splits it into words, also breaking
// camelCase and snake_case identifiers into their parts. The joined identifier
// is kept alongside its parts so "isString" yields "isstring", "is", "string".
func SplitWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make([]string, 0, len(fields)*2)
	for _, field := range fields {
		parts := splitIdentifier(field)
		joined := strings.ToLower(strings.ReplaceAll(field, "_", ""))
		if joined != "" {
			out = append(out, joined)
		}
		if len(parts) > 1 {
			for _, part := range parts {
				out = append(out, strings.ToLower(part))
			}
		}
	}
	return out
}

func splitIdentifier(ident string) []string {
	var parts []string
	for _, chunk := range strings.Split(ident, "_") {
		if chunk == "" {
			continue
		}
		runes := []rune(chunk)
		start := 0
		for i := 1; i < len(runes); i++ {
			prev, cur := runes[i-1], runes[i]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsUpper(cur) && (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

// NormalizeSpace collapses runs of whitespace into single spaces.
func NormalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// CommentBody strips comment delimiters and decoration, returning the prose.
func CommentBody(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "/*"):
		text = strings.TrimPrefix(text, "/*")
		text = strings.TrimSuffix(text, "*/")
		text = strings.TrimLeft(text, "*!")
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			line = strings.TrimSpace(line)
			lines[i] = strings.TrimSpace(strings.TrimLeft(line, "*"))
		}
		text = strings.Join(lines, " ")
	case strings.HasPrefix(text, "//"):
		text = strings.TrimLeft(text, "/!")
	case strings.HasPrefix(text, "#"):
		text = strings.TrimLeft(text, "#!")
	}
	return NormalizeSpace(text)
}
