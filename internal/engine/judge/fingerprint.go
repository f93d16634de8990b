package judge

import (
	"fmt"
	"strings"

	"unremark/internal/core/ports"
	"unremark/internal/engine/parser"

	"github.com/zeebo/xxh3"
)

// Fingerprint is the cache key of a request: normalised comment text, the
// whitespace-normalised construct signature and the language.
func Fingerprint(req ports.JudgeRequest) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(parser.CommentBody(req.Text)))
	b.WriteByte(0)
	b.WriteString(parser.NormalizeSpace(req.Signature))
	b.WriteByte(0)
	b.WriteString(string(req.Language))
	h := xxh3.HashString128(b.String())
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}
