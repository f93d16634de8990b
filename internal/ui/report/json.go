package report

import (
	"encoding/json"
	"io"

	coreapp "unremark/internal/core/app"
	"unremark/internal/engine/parser"
)

type JSONReport struct {
	RunID                  string     `json:"run_id"`
	Status                 string     `json:"status"`
	Cancelled              bool       `json:"cancelled"`
	TotalFiles             int        `json:"total_files"`
	FilesWithComments      int        `json:"files_with_comments"`
	FilesWithErrors        int        `json:"files_with_errors"`
	TotalRedundantComments int        `json:"total_redundant_comments"`
	Removed                int        `json:"removed"`
	FilesWritten           int        `json:"files_written"`
	JudgeCalls             int        `json:"judge_calls"`
	JudgeFallbacks         int        `json:"judge_fallbacks"`
	DurationMS             int64      `json:"duration_ms"`
	Files                  []JSONFile `json:"files"`
}

type JSONFile struct {
	Path              string        `json:"path"`
	Language          string        `json:"language"`
	Skipped           bool          `json:"skipped,omitempty"`
	RedundantComments []JSONComment `json:"redundant_comments"`
	Errors            []string      `json:"errors"`
}

type JSONComment struct {
	Text       string  `json:"text"`
	LineNumber int     `json:"line_number"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reason     string  `json:"reason,omitempty"`
}

// BuildJSON lists every input file; slices are never null.
func BuildJSON(res *coreapp.RunResult, written int) JSONReport {
	st := res.Stats
	out := JSONReport{
		RunID:                  res.RunID,
		Status:                 string(res.Status),
		Cancelled:              res.Cancelled,
		TotalFiles:             st.Files,
		TotalRedundantComments: st.Redundant,
		Removed:                st.Removed,
		FilesWritten:           written,
		JudgeCalls:             st.JudgeCalls,
		JudgeFallbacks:         st.JudgeFallbacks,
		DurationMS:             st.Duration.Milliseconds(),
		Files:                  make([]JSONFile, 0, len(res.Files)),
	}
	for _, f := range res.Files {
		jf := JSONFile{
			Path:              f.Path,
			Language:          string(f.Language),
			Skipped:           f.Skipped,
			RedundantComments: make([]JSONComment, 0),
			Errors:            make([]string, 0),
		}
		for _, c := range f.Redundant() {
			jf.RedundantComments = append(jf.RedundantComments, toJSONComment(c))
		}
		if f.ParseErr != nil {
			jf.Errors = append(jf.Errors, f.ParseErr.Error())
		}
		if f.FixErr != nil {
			jf.Errors = append(jf.Errors, f.FixErr.Error())
		}
		if len(jf.RedundantComments) > 0 {
			out.FilesWithComments++
		}
		if len(jf.Errors) > 0 {
			out.FilesWithErrors++
		}
		out.Files = append(out.Files, jf)
	}
	return out
}

func toJSONComment(c parser.Comment) JSONComment {
	jc := JSONComment{
		Text:       c.Text,
		LineNumber: c.Line(),
		Confidence: c.Verdict.Confidence,
		Source:     string(c.Verdict.Source),
		Reason:     c.Verdict.Reason,
	}
	if c.Construct != nil {
		jc.Context = c.Construct.Context
	}
	return jc
}

func WriteJSON(w io.Writer, res *coreapp.RunResult, written int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(BuildJSON(res, written))
}
