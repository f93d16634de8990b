// Package classify combines heuristic and judge verdicts into the final
// classification of each comment.
package classify

import (
	"context"
	"log/slog"

	"unremark/internal/core/errors"
	"unremark/internal/core/ports"
	"unremark/internal/engine/heuristic"
	"unremark/internal/engine/parser"
	"unremark/internal/shared/observability"
)

type Options struct {
	// MinConfidence is the bar a heuristic Redundant verdict must clear to
	// stand without a judge double-check (when VerifyLowConfidence is set).
	MinConfidence       float64
	VerifyLowConfidence bool
	IncludeDocComments  bool
}

func DefaultOptions() Options {
	return Options{MinConfidence: 0.8}
}

type Orchestrator struct {
	scorer *heuristic.Classifier
	judge  ports.Judge
	opts   Options
	logger *slog.Logger
}

// New builds an orchestrator. judge may be nil, in which case every comment
// that needs the judge takes the fallback path.
func New(scorer *heuristic.Classifier, judge ports.Judge, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{scorer: scorer, judge: judge, opts: opts, logger: logger}
}

// Outcome reports what classifying one comment involved.
type Outcome struct {
	Verdict     parser.Verdict
	JudgeCalled bool
	JudgeErr    error
}

// Prescore runs the pure part of classification. It returns the verdict and
// whether the judge must be consulted.
func (o *Orchestrator) Prescore(c parser.Comment) (parser.Verdict, bool) {
	if c.Attachment == parser.AttachOrphan || c.Construct == nil {
		return fixed(parser.LabelUseful, "orphan comment"), false
	}
	if c.Kind == parser.KindDoc && !o.opts.IncludeDocComments {
		return fixed(parser.LabelUseful, "doc comment"), false
	}

	v := o.scorer.Score(c.Text, c.Construct)
	switch v.Label {
	case parser.LabelUncertain:
		return v, true
	case parser.LabelRedundant:
		return v, o.opts.VerifyLowConfidence && v.Confidence < o.opts.MinConfidence
	}
	return v, false
}

// Classify returns the final verdict for c, calling the judge when the
// heuristic cannot settle it.
func (o *Orchestrator) Classify(ctx context.Context, c parser.Comment) Outcome {
	h, needJudge := o.Prescore(c)
	return o.Resolve(ctx, c, h, needJudge)
}

// Resolve finishes classification from a Prescore result.
func (o *Orchestrator) Resolve(ctx context.Context, c parser.Comment, h parser.Verdict, needJudge bool) Outcome {
	if !needJudge {
		observability.CommentsClassifiedTotal.WithLabelValues(string(h.Label), string(h.Source)).Inc()
		return Outcome{Verdict: h}
	}

	var (
		ans ports.JudgeAnswer
		err error
	)
	if o.judge == nil {
		err = errors.New(errors.CodeJudgeUnavailable, "judge disabled")
	} else {
		ans, err = o.judge.Judge(ctx, Request(c))
	}
	if err != nil {
		o.logger.Debug("judge unavailable, using fallback",
			"file", c.File, "line", c.Line(), "code", errors.CodeOf(err))
	}

	v := Decide(h, ans, err)
	observability.CommentsClassifiedTotal.WithLabelValues(string(v.Label), string(v.Source)).Inc()
	return Outcome{Verdict: v, JudgeCalled: o.judge != nil, JudgeErr: err}
}

// Request builds the judge request for c.
func Request(c parser.Comment) ports.JudgeRequest {
	req := ports.JudgeRequest{Text: c.Text, Language: c.Language, Line: c.Line()}
	if c.Construct != nil {
		req.Signature = c.Construct.Signature
		req.Context = c.Construct.Context
	}
	return req
}

// Decide resolves a heuristic verdict against the judge's answer. The judge
// wins whenever it answered; on a judge error an Uncertain heuristic becomes
// Useful and any other heuristic verdict stands, both marked Fallback.
func Decide(h parser.Verdict, ans ports.JudgeAnswer, judgeErr error) parser.Verdict {
	if judgeErr != nil {
		out := h
		out.Source = parser.SourceFallback
		if h.Label == parser.LabelUncertain {
			out.Label = parser.LabelUseful
			out.Confidence = 1 - h.Confidence
			out.Reason = "judge unavailable; kept by default"
		} else {
			out.Reason = h.Reason + "; judge unavailable"
		}
		return out
	}

	src := ans.Source
	if src == "" {
		src = parser.SourceJudge
	}
	label := ans.Label
	if label != parser.LabelRedundant {
		label = parser.LabelUseful
	}
	return parser.Verdict{
		Label:               label,
		Confidence:          ans.Confidence,
		Source:              src,
		HeuristicConfidence: h.HeuristicConfidence,
		Reason:              ans.Explanation,
	}
}

func fixed(label parser.Label, reason string) parser.Verdict {
	return parser.Verdict{
		Label:               label,
		Confidence:          1,
		Source:              parser.SourceHeuristic,
		HeuristicConfidence: 1,
		Reason:              reason,
	}
}
