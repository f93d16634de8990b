package report

import (
	"io"

	coreapp "unremark/internal/core/app"

	"github.com/pmezard/go-difflib/difflib"
)

// WriteDiff prints a unified diff for every file with a validated fix.
func WriteDiff(w io.Writer, res *coreapp.RunResult) error {
	for _, f := range res.Files {
		if f.FixedSource == nil || f.FixErr != nil {
			continue
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(f.Source)),
			B:        difflib.SplitLines(string(f.FixedSource)),
			FromFile: "a/" + f.Path,
			ToFile:   "b/" + f.Path,
			Context:  3,
		})
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, text); err != nil {
			return err
		}
	}
	return nil
}
