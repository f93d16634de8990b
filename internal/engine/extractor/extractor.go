// Package extractor turns the raw comment nodes of a parsed file into
// Comments attached to the construct they describe.
package extractor

import (
	"sort"

	"unremark/internal/engine/parser"
)

// Extract returns the comments of tree in document order. Verdicts are left
// zero-valued for the classifier to fill in.
func Extract(a parser.Adapter, tree *parser.Tree, path string) []parser.Comment {
	raws := a.CommentNodes(tree)
	sort.SliceStable(raws, func(i, j int) bool { return raws[i].Bytes.Start < raws[j].Bytes.Start })

	s := &scanner{src: tree.Source, raws: raws, lines: tree.Lines()}
	out := make([]parser.Comment, 0, len(raws))
	for i, raw := range raws {
		if i > 0 && raw.Bytes.Start < raws[i-1].Bytes.End {
			// Nested comment nodes are reported once, by their outermost node.
			continue
		}
		c := parser.Comment{
			File:       path,
			Language:   tree.Language,
			Kind:       raw.Kind,
			Bytes:      raw.Bytes,
			Lines:      raw.Lines,
			Text:       string(tree.Source[raw.Bytes.Start:raw.Bytes.End]),
			Attachment: parser.AttachOrphan,
		}

		switch {
		case s.codeBefore(raw):
			c.Attachment = parser.AttachTrailing
			off := s.skipTo(s.lines.LineStart(raw.Lines.Start), raw.Bytes.Start, i)
			c.Construct = a.EnclosingConstruct(tree, off)
		default:
			if off, ok := s.nextCode(i); ok {
				if con := a.EnclosingConstruct(tree, off); con != nil && con.Bytes.Start == off {
					c.Attachment = parser.AttachLeading
					c.Construct = con
				}
			}
		}
		if c.Construct == nil {
			c.Attachment = parser.AttachOrphan
		}
		out = append(out, c)
	}
	return out
}

type scanner struct {
	src   []byte
	raws  []parser.RawComment
	lines *parser.LineIndex
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '\f' || b == '\v'
}

// codeBefore reports whether non-comment code precedes raw on its first line.
func (s *scanner) codeBefore(raw parser.RawComment) bool {
	lineStart := s.lines.LineStart(raw.Lines.Start)
	return s.skipTo(lineStart, raw.Bytes.Start, len(s.raws)) < raw.Bytes.Start
}

// skipTo returns the first offset in [from, limit) that is neither whitespace
// nor inside one of the first n comments; limit when there is none.
func (s *scanner) skipTo(from, limit, n int) int {
	pos := from
	for pos < limit {
		if isSpace(s.src[pos]) {
			pos++
			continue
		}
		if end, ok := s.commentAt(pos, n); ok {
			pos = end
			continue
		}
		return pos
	}
	return limit
}

func (s *scanner) commentAt(pos, n int) (int, bool) {
	n = min(n, len(s.raws))
	idx := sort.Search(n, func(i int) bool { return s.raws[i].Bytes.Start >= pos })
	if idx < n && s.raws[idx].Bytes.Start == pos {
		return s.raws[idx].Bytes.End, true
	}
	return 0, false
}

// nextCode finds the first code byte after comment i, stepping over a stack of
// further comments. It fails when a blank line interrupts the stack or the code
// or the file ends first.
func (s *scanner) nextCode(i int) (int, bool) {
	pos := s.raws[i].Bytes.End
	for pos < len(s.src) {
		newlines := 0
		for pos < len(s.src) && isSpace(s.src[pos]) {
			if s.src[pos] == '\n' {
				newlines++
			}
			pos++
		}
		if newlines > 1 || pos >= len(s.src) {
			return 0, false
		}
		if end, ok := s.commentAt(pos, len(s.raws)); ok {
			pos = end
			continue
		}
		return pos, true
	}
	return 0, false
}
