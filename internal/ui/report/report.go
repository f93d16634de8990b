// Package report renders run results for terminals, CI and other tools.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	coreapp "unremark/internal/core/app"
	"unremark/internal/core/errors"
)

type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatSARIF    Format = "sarif"
	FormatMarkdown Format = "markdown"
	FormatDiff     Format = "diff"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatText, FormatJSON, FormatSARIF, FormatMarkdown, FormatDiff:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "":
		return FormatText, nil
	}
	return "", errors.New(errors.CodeValidationError, fmt.Sprintf("unknown output format %q (want text, json, sarif, markdown or diff)", raw))
}

type Options struct {
	// Fixed is set when fixes were requested and written.
	Fixed       bool
	Written     int
	ProjectRoot string
	GeneratedAt time.Time
}

// Write renders res in the given format.
func Write(w io.Writer, format Format, res *coreapp.RunResult, opts Options) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, res, opts.Written)
	case FormatSARIF:
		data, err := GenerateSARIF(opts.ProjectRoot, res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case FormatMarkdown:
		out, err := NewMarkdownGenerator().Generate(res, MarkdownReportOptions{
			ProjectRoot:         opts.ProjectRoot,
			GeneratedAt:         opts.GeneratedAt,
			Fixed:               opts.Fixed,
			CollapsibleSections: true,
		})
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	case FormatDiff:
		return WriteDiff(w, res)
	}
	return WriteText(w, res, opts.Written, opts.Fixed)
}

// relPath returns path relative to root with forward slashes. Paths outside
// root, or any path when root is empty, are returned as given.
func relPath(root, path string) string {
	root = strings.TrimSpace(root)
	path = strings.TrimSpace(path)
	if root == "" || path == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// columnOf returns the 1-based byte column of offset in src.
func columnOf(src []byte, offset int) int {
	if offset > len(src) {
		offset = len(src)
	}
	col := 1
	for i := offset - 1; i >= 0 && src[i] != '\n'; i-- {
		col++
	}
	return col
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " ..."
	}
	return s
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
