package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	coreapp "unremark/internal/core/app"
	"unremark/internal/shared/util"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

var (
	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	redundantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

// WriteText prints the redundant comments per file, a summary table and the
// run status.
func WriteText(w io.Writer, res *coreapp.RunResult, written int, fixed bool) error {
	var b strings.Builder

	flagged := 0
	for _, f := range res.Files {
		if len(f.Redundant()) > 0 || f.Failed() {
			flagged++
		}
	}
	if flagged > 0 {
		heading := "Files with redundant comments:"
		if fixed {
			heading = "Removed comments:"
		}
		b.WriteString(heading + "\n")
		for _, f := range res.Files {
			writeFileDetail(&b, f, fixed)
		}
		b.WriteString("\n")
	}

	b.WriteString(renderSummaryTable(res))
	b.WriteString("\n")
	b.WriteString(statusLine(res, written, fixed))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeFileDetail(b *strings.Builder, f coreapp.FileAnalysis, fixed bool) {
	redundant := f.Redundant()
	if len(redundant) == 0 && !f.Failed() {
		return
	}
	b.WriteString("\n" + pathStyle.Render(f.Path) + "\n")
	if f.ParseErr != nil {
		b.WriteString("  " + errorStyle.Render("parse failed: "+f.ParseErr.Error()) + "\n")
		return
	}
	kept := make(map[int]string, len(f.Unremovable))
	for _, s := range f.Unremovable {
		kept[s.Comment.Bytes.Start] = s.Reason
	}
	for _, c := range redundant {
		line := fmt.Sprintf("  Line %d: %s", c.Line(), redundantStyle.Render(firstLine(c.Text)))
		line += " " + mutedStyle.Render(fmt.Sprintf("[%s %.2f]", c.Verdict.Source, c.Verdict.Confidence))
		if reason, ok := kept[c.Bytes.Start]; ok && fixed {
			line += " " + mutedStyle.Render("kept: "+reason)
		}
		b.WriteString(line + "\n")
	}
	if f.FixErr != nil {
		b.WriteString("  " + errorStyle.Render("fix rejected, file left unchanged: "+f.FixErr.Error()) + "\n")
	}
}

func renderSummaryTable(res *coreapp.RunResult) string {
	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"File", "Comments", "Redundant", "Removed", "Result"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	for _, f := range res.Files {
		table.Append([]string{
			f.Path,
			fmt.Sprintf("%d", len(f.Comments)),
			fmt.Sprintf("%d", len(f.Redundant())),
			fmt.Sprintf("%d", f.Removed),
			fileResult(f),
		})
	}

	st := res.Stats
	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", st.Files),
		humanize.Comma(int64(st.Comments)),
		humanize.Comma(int64(st.Redundant)),
		humanize.Comma(int64(st.Removed)),
		"",
	})
	table.Render()
	return buf.String()
}

func fileResult(f coreapp.FileAnalysis) string {
	switch {
	case f.Skipped:
		return "skipped"
	case f.ParseErr != nil:
		return "parse error"
	case f.FixErr != nil:
		return "fix rejected"
	case f.JudgeFallbacks > 0:
		return "judge degraded"
	}
	return "ok"
}

func statusLine(res *coreapp.RunResult, written int, fixed bool) string {
	st := res.Stats
	var parts []string
	switch res.Status {
	case coreapp.StatusOK:
		parts = append(parts, successStyle.Render("status: ok"))
	case coreapp.StatusJudgeDegraded:
		parts = append(parts, redundantStyle.Render(fmt.Sprintf("status: judge degraded (%d of %d judge calls fell back)", st.JudgeFallbacks, st.JudgeCalls)))
	default:
		parts = append(parts, errorStyle.Render(fmt.Sprintf("status: %s (%d parse, %d fix, %d skipped)", res.Status, st.ParseFailures, st.FixFailures, st.Skipped)))
	}
	if res.Cancelled {
		parts = append(parts, errorStyle.Render("cancelled"))
	}
	if fixed {
		noun := "files"
		if written == 1 {
			noun = "file"
		}
		parts = append(parts, fmt.Sprintf("%d %s written", written, noun))
	}
	parts = append(parts, mutedStyle.Render(fmt.Sprintf("%s in %s", shortRunID(res.RunID), st.Duration.Round(time.Millisecond))))
	return strings.Join(parts, "  ")
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return "run " + id[:8]
	}
	return "run " + id
}

// WriteHealth prints one row per component followed by the overall state.
func WriteHealth(w io.Writer, status coreapp.HealthStatus) error {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Component", "State"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	for _, name := range util.SortedStringKeys(status.Components) {
		table.Append([]string{name, status.Components[name]})
	}
	table.Render()

	state := successStyle.Render(status.Status)
	if status.Status != "up" {
		state = errorStyle.Render(status.Status)
	}
	_, err := fmt.Fprintf(w, "%s\nhealth: %s\n", buf.String(), state)
	return err
}
