// Package rewrite removes flagged comments from source text and checks that
// nothing but comments changed.
package rewrite

import (
	"bytes"
	"fmt"
	"sort"

	"unremark/internal/core/errors"
	"unremark/internal/engine/parser"
	"unremark/internal/shared/observability"
)

// Skip records a flagged comment that could not be removed safely.
type Skip struct {
	Comment parser.Comment
	Reason  string
}

type Result struct {
	Source  []byte
	Removed []parser.Comment
	Skipped []Skip
}

// Changed reports whether any comment was removed.
func (r Result) Changed() bool { return len(r.Removed) > 0 }

type removal struct {
	span    parser.Span
	comment parser.Comment
}

// Rewrite returns source with every flagged comment removed in one pass.
// Own-line comments take their whole line with them, trailing comments take
// the whitespace before them, and comments embedded mid-line take one
// adjacent whitespace run. The input slice is not modified.
func Rewrite(source []byte, flagged []parser.Comment) Result {
	res := Result{}
	removals := make([]removal, 0, len(flagged))
	for _, c := range flagged {
		span, reason := removalSpan(source, c)
		if reason != "" {
			res.Skipped = append(res.Skipped, Skip{Comment: c, Reason: reason})
			continue
		}
		removals = append(removals, removal{span: span, comment: c})
	}
	sort.SliceStable(removals, func(i, j int) bool { return removals[i].span.Start < removals[j].span.Start })

	merged := make([]parser.Span, 0, len(removals))
	for _, r := range removals {
		res.Removed = append(res.Removed, r.comment)
		if n := len(merged); n > 0 && r.span.Start <= merged[n-1].End {
			merged[n-1].End = max(merged[n-1].End, r.span.End)
			continue
		}
		merged = append(merged, r.span)
	}

	merged = wholeLines(source, merged)

	if len(merged) == 0 {
		res.Source = source
		return res
	}

	var out bytes.Buffer
	out.Grow(len(source))
	pos := 0
	for _, s := range merged {
		out.Write(source[pos:s.Start])
		pos = s.End
	}
	out.Write(source[pos:])
	res.Source = out.Bytes()
	return res
}

// wholeLines widens spans that leave only blanks on their line to the whole
// line including its terminator, then merges spans that now touch.
func wholeLines(src []byte, spans []parser.Span) []parser.Span {
	out := make([]parser.Span, 0, len(spans))
	for _, s := range spans {
		if src[s.End-1] != '\n' {
			lineStart := bytes.LastIndexByte(src[:s.Start], '\n') + 1
			lineEnd := len(src)
			if idx := bytes.IndexByte(src[s.End:], '\n'); idx >= 0 {
				lineEnd = s.End + idx
			}
			if allSpace(src[lineStart:s.Start]) && allSpace(src[s.End:lineEnd]) {
				s.Start = lineStart
				s.End = min(lineEnd+1, len(src))
			}
		}
		if n := len(out); n > 0 && s.Start <= out[n-1].End {
			out[n-1].End = max(out[n-1].End, s.End)
			continue
		}
		out = append(out, s)
	}
	return out
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }

func allSpace(b []byte) bool {
	for _, c := range b {
		if !isBlank(c) && c != '\r' && c != '\f' && c != '\v' {
			return false
		}
	}
	return true
}

func removalSpan(src []byte, c parser.Comment) (parser.Span, string) {
	start, end := c.Bytes.Start, c.Bytes.End
	if start < 0 || end > len(src) || start >= end {
		return parser.Span{}, "comment range outside source"
	}
	if string(src[start:end]) != c.Text && c.Text != "" {
		return parser.Span{}, "source no longer matches comment text"
	}

	lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
	lineEnd := len(src)
	if idx := bytes.IndexByte(src[end:], '\n'); idx >= 0 {
		lineEnd = end + idx
	}
	before := src[lineStart:start]
	after := src[end:lineEnd]

	switch {
	case allSpace(before) && allSpace(after):
		stop := lineEnd
		if stop < len(src) {
			stop++
		}
		return parser.Span{Start: lineStart, End: stop}, ""

	case allSpace(after):
		from := start
		for from > lineStart && isBlank(src[from-1]) {
			from--
		}
		to := end
		for to < lineEnd && isBlank(src[to]) {
			to++
		}
		return parser.Span{Start: from, End: to}, ""
	}

	if bytes.IndexByte(src[start:end], '\n') >= 0 {
		return parser.Span{}, "multi-line comment shares its line with code"
	}
	if to := end; to < lineEnd && isBlank(src[to]) {
		for to < lineEnd && isBlank(src[to]) {
			to++
		}
		return parser.Span{Start: start, End: to}, ""
	}
	if from := start; from > lineStart && isBlank(src[from-1]) {
		for from > lineStart && isBlank(src[from-1]) {
			from--
		}
		return parser.Span{Start: from, End: end}, ""
	}
	return parser.Span{}, "no whitespace separates comment from code"
}

// Validate re-parses fixed and checks that its syntax state and non-comment
// token stream equal the original's.
func Validate(a parser.Adapter, original, fixed []byte) error {
	before, err := a.Parse(original)
	if err != nil {
		return errors.Wrap(err, errors.CodeRewriteViolation, "original source does not parse")
	}
	defer before.Close()

	after, err := a.Parse(fixed)
	if err != nil {
		observability.RewriteViolationsTotal.Inc()
		return errors.Wrap(err, errors.CodeRewriteViolation, "rewritten source does not parse")
	}
	defer after.Close()

	if before.HasError() != after.HasError() {
		observability.RewriteViolationsTotal.Inc()
		return errors.New(errors.CodeRewriteViolation, "rewrite changed syntax error state")
	}

	want, got := a.Lexemes(before), a.Lexemes(after)
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if want[i] != got[i] {
			observability.RewriteViolationsTotal.Inc()
			return errors.New(errors.CodeRewriteViolation,
				fmt.Sprintf("token %d changed from %q to %q", i, want[i].Text, got[i].Text))
		}
	}
	if len(want) != len(got) {
		observability.RewriteViolationsTotal.Inc()
		return errors.New(errors.CodeRewriteViolation,
			fmt.Sprintf("token count changed from %d to %d", len(want), len(got)))
	}
	return nil
}
