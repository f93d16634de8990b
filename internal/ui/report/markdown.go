package report

import (
	"fmt"
	"strings"
	"time"

	coreapp "unremark/internal/core/app"
	"unremark/internal/shared/version"
)

// collapseAfter is the row count above which a table is folded into a
// <details> block when collapsible sections are on.
const collapseAfter = 20

type MarkdownReportOptions struct {
	ProjectName         string
	ProjectRoot         string
	GeneratedAt         time.Time
	Fixed               bool
	CollapsibleSections bool
}

type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

func (m *MarkdownGenerator) Generate(res *coreapp.RunResult, opts MarkdownReportOptions) (string, error) {
	if res == nil {
		return "", fmt.Errorf("markdown report: nil run result")
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Comment Report\n")
	b.WriteString("project: " + nonEmpty(opts.ProjectName, "unknown") + "\n")
	b.WriteString("run_id: " + nonEmpty(res.RunID, "unknown") + "\n")
	b.WriteString("generated_at: " + opts.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + version.Version + "\n")
	b.WriteString("---\n\n")

	b.WriteString("# Comment Report\n\n")

	st := res.Stats
	b.WriteString("## Executive Summary\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	b.WriteString(fmt.Sprintf("| Status | %s |\n", res.Status))
	b.WriteString(fmt.Sprintf("| Files | %d |\n", st.Files))
	b.WriteString(fmt.Sprintf("| Comments | %d |\n", st.Comments))
	b.WriteString(fmt.Sprintf("| Redundant Comments | %d |\n", st.Redundant))
	if opts.Fixed {
		b.WriteString(fmt.Sprintf("| Removed | %d |\n", st.Removed))
	}
	b.WriteString(fmt.Sprintf("| Judge Calls | %d |\n", st.JudgeCalls))
	b.WriteString(fmt.Sprintf("| Judge Fallbacks | %d |\n", st.JudgeFallbacks))
	b.WriteString(fmt.Sprintf("| Duration | %s |\n\n", st.Duration.Round(time.Millisecond)))

	m.writeRedundant(&b, res, opts)
	m.writeFailures(&b, res, opts)
	if opts.Fixed {
		m.writeKept(&b, res, opts)
	}
	return b.String(), nil
}

func (m *MarkdownGenerator) writeRedundant(b *strings.Builder, res *coreapp.RunResult, opts MarkdownReportOptions) {
	b.WriteString("## Redundant Comments\n")
	rows := make([]string, 0)
	for _, f := range res.Files {
		path := relPath(opts.ProjectRoot, f.Path)
		for _, c := range f.Redundant() {
			rows = append(rows, fmt.Sprintf("| `%s` | %d | %s | %s | %.2f |\n",
				path, c.Line(), escapeCell(firstLine(c.Text)), c.Verdict.Source, c.Verdict.Confidence))
		}
	}
	if len(rows) == 0 {
		b.WriteString("No redundant comments detected.\n\n")
		return
	}
	m.writeTableWithCollapse(
		b,
		"Comment details",
		opts.CollapsibleSections,
		len(rows) > collapseAfter,
		[]string{"| File | Line | Comment | Source | Confidence |\n", "| --- | --- | --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeFailures(b *strings.Builder, res *coreapp.RunResult, opts MarkdownReportOptions) {
	rows := make([]string, 0)
	for _, f := range res.Files {
		path := relPath(opts.ProjectRoot, f.Path)
		switch {
		case f.Skipped:
			rows = append(rows, fmt.Sprintf("| `%s` | skipped | run stopped before the file started |\n", path))
		case f.ParseErr != nil:
			rows = append(rows, fmt.Sprintf("| `%s` | parse error | %s |\n", path, escapeCell(f.ParseErr.Error())))
		case f.FixErr != nil:
			rows = append(rows, fmt.Sprintf("| `%s` | fix rejected | %s |\n", path, escapeCell(f.FixErr.Error())))
		}
	}
	if len(rows) == 0 {
		return
	}
	b.WriteString("## Failures\n")
	m.writeTableWithCollapse(
		b,
		"Failure details",
		opts.CollapsibleSections,
		len(rows) > collapseAfter,
		[]string{"| File | Result | Detail |\n", "| --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeKept(b *strings.Builder, res *coreapp.RunResult, opts MarkdownReportOptions) {
	rows := make([]string, 0)
	for _, f := range res.Files {
		path := relPath(opts.ProjectRoot, f.Path)
		for _, s := range f.Unremovable {
			rows = append(rows, fmt.Sprintf("| `%s` | %d | %s |\n", path, s.Comment.Line(), escapeCell(s.Reason)))
		}
	}
	if len(rows) == 0 {
		return
	}
	b.WriteString("## Kept In Place\n")
	m.writeTableWithCollapse(
		b,
		"Kept comment details",
		opts.CollapsibleSections,
		len(rows) > collapseAfter,
		[]string{"| File | Line | Reason |\n", "| --- | --- | --- |\n"},
		rows,
	)
}

func (m *MarkdownGenerator) writeTableWithCollapse(
	b *strings.Builder,
	summary string,
	collapsible bool,
	collapse bool,
	header []string,
	rows []string,
) {
	if collapsible && collapse {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
	}
	for _, line := range header {
		b.WriteString(line)
	}
	for _, line := range rows {
		b.WriteString(line)
	}
	b.WriteString("\n")
	if collapsible && collapse {
		b.WriteString("</details>\n\n")
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
