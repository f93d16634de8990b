package app

import (
	"time"

	"unremark/internal/engine/parser"
	"unremark/internal/engine/rewrite"
)

// SourceFile is one input to the pipeline. Language must already be detected.
type SourceFile struct {
	Path     string
	Language parser.Language
	Source   []byte
}

// FileAnalysis is the per-file result handed to reporting.
type FileAnalysis struct {
	Path     string
	Language parser.Language
	Comments []parser.Comment
	Source   []byte

	// FixedSource is set only when fixing was requested and at least one
	// comment was removed and the result passed validation.
	FixedSource []byte
	Removed     int
	Unremovable []rewrite.Skip

	ParseErr error
	FixErr   error
	Skipped  bool

	JudgeCalls     int
	JudgeFallbacks int
	Duration       time.Duration
}

// Redundant returns the comments with a final Redundant verdict.
func (f FileAnalysis) Redundant() []parser.Comment {
	out := make([]parser.Comment, 0)
	for _, c := range f.Comments {
		if c.IsRedundant() {
			out = append(out, c)
		}
	}
	return out
}

// Failed reports whether the file could not be analyzed or safely fixed.
func (f FileAnalysis) Failed() bool {
	return f.ParseErr != nil || f.FixErr != nil
}

type Status string

const (
	StatusOK             Status = "ok"
	StatusPartialFailure Status = "partial_failure"
	StatusJudgeDegraded  Status = "judge_degraded"
)

type Stats struct {
	Files          int
	Analyzed       int
	ParseFailures  int
	FixFailures    int
	Skipped        int
	Comments       int
	Redundant      int
	Removed        int
	JudgeCalls     int
	JudgeFallbacks int
	Duration       time.Duration
}

type RunResult struct {
	RunID     string
	Files     []FileAnalysis
	Status    Status
	Stats     Stats
	Cancelled bool
}

// RunOptions control a single pipeline run.
type RunOptions struct {
	Fix   bool
	RunID string
}
