package app

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"unremark/internal/core/errors"
	"unremark/internal/core/ports"
	"unremark/internal/engine/classify"
	"unremark/internal/engine/extractor"
	"unremark/internal/engine/parser"
	"unremark/internal/engine/rewrite"
	"unremark/internal/shared/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type PipelineConfig struct {
	Workers     int
	GracePeriod time.Duration
}

// Pipeline runs parse, extraction and classification across a file set and
// optionally produces fixed sources. Parsing and heuristics run on a fixed
// number of worker slots; judge calls go through the orchestrator's single
// client and do not hold a slot.
type Pipeline struct {
	parsers     ports.SourceParser
	orch        *classify.Orchestrator
	workers     int
	gracePeriod time.Duration
	logger      *slog.Logger
}

func NewPipeline(parsers ports.SourceParser, orch *classify.Orchestrator, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		parsers:     parsers,
		orch:        orch,
		workers:     cfg.Workers,
		gracePeriod: cfg.GracePeriod,
		logger:      logger,
	}
}

// Run analyzes files and returns one FileAnalysis per input, in input order.
// Cancelling ctx skips files that have not started; judge calls already in
// flight get the grace period before they are abandoned.
func (p *Pipeline) Run(ctx context.Context, files []SourceFile, opts RunOptions) (*RunResult, error) {
	if len(files) == 0 {
		return nil, errors.New(errors.CodeValidationError, "no input files")
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = ports.WithRunID(ctx, runID)

	ctx, span := observability.Tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("files", len(files)),
		attribute.Bool("fix", opts.Fix),
	))
	defer span.End()

	started := time.Now()
	logger := p.logger.With("run_id", runID)
	logger.Info("analysis started", "files", len(files), "workers", p.workers, "fix", opts.Fix)

	judgeCtx, abandon := p.judgeContext(ctx, logger)
	defer abandon()

	// cpu bounds parsing, extraction, heuristics and rewrite validation.
	// Files hand their slot back while they wait on the judge.
	cpu := semaphore.NewWeighted(int64(p.workers))
	results := make([]FileAnalysis, len(files))
	var g errgroup.Group
	for i := range files {
		if ctx.Err() != nil || cpu.Acquire(ctx, 1) != nil {
			results[i] = skippedFile(files[i])
			continue
		}
		g.Go(func() error {
			results[i] = p.analyzeFile(ctx, judgeCtx, cpu, files[i], opts, logger)
			return nil
		})
	}
	_ = g.Wait()

	res := &RunResult{
		RunID:     runID,
		Files:     results,
		Cancelled: ctx.Err() != nil,
	}
	res.Stats = summarize(results)
	res.Stats.Duration = time.Since(started)
	res.Status = statusOf(res.Stats)
	observability.AnalysisDuration.WithLabelValues("run").Observe(res.Stats.Duration.Seconds())

	span.SetAttributes(attribute.String("status", string(res.Status)))
	logger.Info("analysis finished",
		"status", res.Status,
		"analyzed", res.Stats.Analyzed,
		"skipped", res.Stats.Skipped,
		"redundant", res.Stats.Redundant,
		"judge_fallbacks", res.Stats.JudgeFallbacks,
		"duration", res.Stats.Duration)
	return res, nil
}

// judgeContext detaches judge calls from ctx so a stop signal does not cut
// them off at once. They are cancelled gracePeriod after ctx is done, or when
// the returned func runs.
func (p *Pipeline) judgeContext(ctx context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	judgeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(p.gracePeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
			logger.Warn("abandoning in-flight judge calls", "grace_period", p.gracePeriod)
			cancel()
		case <-judgeCtx.Done():
		}
	})
	return judgeCtx, func() {
		stop()
		cancel()
	}
}

// analyzeFile is entered holding one cpu slot. The slot is released once
// heuristics are done and taken again for the rewrite.
func (p *Pipeline) analyzeFile(ctx, judgeCtx context.Context, cpu *semaphore.Weighted, f SourceFile, opts RunOptions, logger *slog.Logger) (fa FileAnalysis) {
	if ctx.Err() != nil {
		cpu.Release(1)
		return skippedFile(f)
	}
	started := time.Now()
	fa = FileAnalysis{Path: f.Path, Language: f.Language, Source: f.Source}
	defer func() { fa.Duration = time.Since(started) }()

	adapter, scores, ok := p.prepare(&fa, f, logger)
	cpu.Release(1)
	if !ok {
		observability.FilesProcessedTotal.WithLabelValues("parse_error").Inc()
		return fa
	}

	fa.JudgeCalls, fa.JudgeFallbacks = p.resolveAll(judgeCtx, fa.Comments, scores)
	logger.Debug("file classified", "path", f.Path, "comments", len(fa.Comments), "judge_calls", fa.JudgeCalls)

	if opts.Fix {
		// A background context never fails Acquire.
		_ = cpu.Acquire(context.WithoutCancel(ctx), 1)
		p.fix(adapter, &fa, logger)
		cpu.Release(1)
	}
	if fa.FixErr != nil {
		observability.FilesProcessedTotal.WithLabelValues("fix_error").Inc()
	} else {
		observability.FilesProcessedTotal.WithLabelValues("ok").Inc()
	}
	return fa
}

// prescore is a comment's heuristic verdict and whether the judge must
// still be asked.
type prescore struct {
	verdict   parser.Verdict
	needJudge bool
}

// prepare parses f, extracts its comments into fa and scores them with the
// heuristic. It reports false when the file could not be parsed.
func (p *Pipeline) prepare(fa *FileAnalysis, f SourceFile, logger *slog.Logger) (parser.Adapter, []prescore, bool) {
	adapter, ok := p.parsers.Adapter(f.Language)
	if !ok {
		fa.ParseErr = errors.AddContext(
			errors.New(errors.CodeNotSupported, "no grammar adapter for language"),
			errors.CtxLanguage, string(f.Language))
		return nil, nil, false
	}

	parseStarted := time.Now()
	tree, err := adapter.Parse(f.Source)
	observability.ParsingDuration.WithLabelValues(string(f.Language)).Observe(time.Since(parseStarted).Seconds())
	if err != nil {
		fa.ParseErr = errors.AddContext(err, errors.CtxPath, f.Path)
		logger.Warn("failed to parse file", "path", f.Path, "error", err)
		return nil, nil, false
	}
	fa.Comments = extractor.Extract(adapter, tree, f.Path)
	tree.Close()

	scores := make([]prescore, len(fa.Comments))
	for i := range fa.Comments {
		scores[i].verdict, scores[i].needJudge = p.orch.Prescore(fa.Comments[i])
	}
	return adapter, scores, true
}

// resolveAll settles heuristic verdicts inline and consults the judge
// concurrently for the rest. Verdicts are written back in document order.
func (p *Pipeline) resolveAll(ctx context.Context, comments []parser.Comment, scores []prescore) (calls, fallbacks int) {
	started := time.Now()
	defer func() {
		observability.AnalysisDuration.WithLabelValues("classify").Observe(time.Since(started).Seconds())
	}()

	outcomes := make([]classify.Outcome, len(comments))
	var g errgroup.Group
	for i := range comments {
		if !scores[i].needJudge {
			outcomes[i] = p.orch.Resolve(ctx, comments[i], scores[i].verdict, false)
			continue
		}
		g.Go(func() error {
			outcomes[i] = p.orch.Resolve(ctx, comments[i], scores[i].verdict, true)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		comments[i].Verdict = o.Verdict
		if o.JudgeCalled {
			calls++
			if o.JudgeErr != nil {
				fallbacks++
			}
		}
	}
	return calls, fallbacks
}

func (p *Pipeline) fix(adapter parser.Adapter, fa *FileAnalysis, logger *slog.Logger) {
	flagged := fa.Redundant()
	if len(flagged) == 0 {
		return
	}
	res := rewrite.Rewrite(fa.Source, flagged)
	fa.Unremovable = res.Skipped
	for _, s := range res.Skipped {
		logger.Debug("comment left in place", "path", fa.Path, "line", s.Comment.Line(), "reason", s.Reason)
	}
	if !res.Changed() {
		return
	}
	if err := rewrite.Validate(adapter, fa.Source, res.Source); err != nil {
		fa.FixErr = errors.AddContext(err, errors.CtxPath, fa.Path)
		logger.Error("rewrite rejected, keeping original source", "path", fa.Path, "error", err)
		return
	}
	fa.FixedSource = res.Source
	fa.Removed = len(res.Removed)
	observability.CommentsRemovedTotal.Add(float64(fa.Removed))
}

func skippedFile(f SourceFile) FileAnalysis {
	observability.FilesProcessedTotal.WithLabelValues("skipped").Inc()
	return FileAnalysis{Path: f.Path, Language: f.Language, Source: f.Source, Skipped: true}
}

func summarize(files []FileAnalysis) Stats {
	st := Stats{Files: len(files)}
	for _, f := range files {
		switch {
		case f.Skipped:
			st.Skipped++
			continue
		case f.ParseErr != nil:
			st.ParseFailures++
			continue
		}
		st.Analyzed++
		if f.FixErr != nil {
			st.FixFailures++
		}
		st.Comments += len(f.Comments)
		st.Redundant += len(f.Redundant())
		st.Removed += f.Removed
		st.JudgeCalls += f.JudgeCalls
		st.JudgeFallbacks += f.JudgeFallbacks
	}
	return st
}

// statusOf ranks file failures above judge degradation.
func statusOf(st Stats) Status {
	switch {
	case st.ParseFailures > 0 || st.FixFailures > 0 || st.Skipped > 0:
		return StatusPartialFailure
	case st.JudgeFallbacks > 0:
		return StatusJudgeDegraded
	}
	return StatusOK
}
