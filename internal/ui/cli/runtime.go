package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	coreapp "unremark/internal/core/app"
	"unremark/internal/core/config"
	domainerrors "unremark/internal/core/errors"
	"unremark/internal/core/watcher"
	"unremark/internal/shared/observability"
	"unremark/internal/ui/report"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	exitOK = iota
	// exitFindings: redundant comments were found and left in place.
	exitFindings
	exitError
)

// exitCodeError carries a process exit code out of a cobra RunE. err may be
// nil when there is nothing more to print.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func Run(args []string) int {
	return run(context.Background(), args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &cliOptions{}
	root := newRootCmd(opts, runAnalyze)
	root.MarkFlagsMutuallyExclusive("fix", "diff")
	root.MarkFlagsMutuallyExclusive("json", "diff", "format")
	root.AddCommand(
		newWatchCmd(opts, runWatch),
		newHealthCmd(opts, runHealth),
		newVersionCmd(),
	)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(stderr, "error:", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitError
}

// session holds what every analysis command needs, built from config and flags.
type session struct {
	cfg     *config.Config
	app     *coreapp.App
	logger  *slog.Logger
	closers []func()
}

func openSession(ctx context.Context, cmd *cobra.Command, opts *cliOptions) (*session, error) {
	cfg, err := loadConfig(opts.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	applyOptions(opts, cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	logger, closeLogs := configureLogging(cfg.Log, opts.verbose, cmd.ErrOrStderr())
	s.logger = logger
	s.closers = append(s.closers, closeLogs)

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(ctx, cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName, cfg.Observability.OTLPInsecure)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			s.closers = append(s.closers, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Warn("failed to flush traces", "error", err)
				}
			})
		}
	}

	if cfg.Judge.IsEnabled() && strings.TrimSpace(cfg.Judge.APIKey) == "" {
		logger.Warn("judge enabled without an API key; uncertain comments will be kept", "hint", "set OPENAI_API_KEY or pass --no-judge")
	}

	app, err := coreapp.New(cfg, coreapp.WithLogger(logger))
	if err != nil {
		s.close()
		return nil, err
	}
	s.app = app
	s.closers = append(s.closers, func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close verdict store", "error", err)
		}
	})

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv := NewObservabilityServer(addr, coreapp.NewHealthService(app), logger)
		if err := srv.Start(ctx); err != nil {
			logger.Warn("observability server not started", "addr", addr, "error", err)
		} else {
			s.closers = append(s.closers, func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Stop(stopCtx)
			})
		}
	}
	return s, nil
}

// close runs the closers in reverse, so logging shuts down last.
func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise defaults apply.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if explicit || !domainerrors.IsCode(err, domainerrors.CodeNotFound) {
			return nil, err
		}
		cfg = config.Default()
	}
	config.ApplyEnvOverrides(cfg)
	return cfg, nil
}

// applyOptions lays command-line flags over the loaded config.
func applyOptions(opts *cliOptions, cfg *config.Config) {
	if opts.noJudge {
		disabled := false
		cfg.Judge.Enabled = &disabled
	}
	if opts.workers > 0 {
		cfg.Pipeline.Workers = opts.workers
	}
	if len(opts.ignore) > 0 {
		cfg.Exclude.Dirs = append(append([]string(nil), cfg.Exclude.Dirs...), opts.ignore...)
	}
	if len(opts.exclude) > 0 {
		cfg.Exclude.Files = append(append([]string(nil), cfg.Exclude.Files...), opts.exclude...)
	}
	if opts.metricsAddr != "" {
		cfg.Observability.MetricsAddr = opts.metricsAddr
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
}

// configureLogging installs the default slog logger. Logs go to stderr so
// stdout stays clean for reports, or to a rotated file when one is set.
func configureLogging(lc config.Log, verbose bool, stderr io.Writer) (*slog.Logger, func()) {
	level := parseLevel(lc.Level)
	if verbose {
		level = slog.LevelDebug
	}

	var (
		output  io.Writer = stderr
		closeFn           = func() {}
	)
	if strings.TrimSpace(lc.File) != "" {
		lj := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
		output = lj
		closeFn = func() { _ = lj.Close() }
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closeFn
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// rootsOrCwd prefers explicit arguments, then the configured paths.
func rootsOrCwd(args, configured []string) []string {
	if len(args) > 0 {
		return args
	}
	if len(configured) > 0 {
		return configured
	}
	return []string{"."}
}

// outputFormat resolves --json and --diff into a report format.
func outputFormat(opts *cliOptions) (report.Format, error) {
	var format report.Format
	switch {
	case opts.diff:
		format = report.FormatDiff
	case opts.json:
		format = report.FormatJSON
	default:
		f, err := report.ParseFormat(opts.format)
		if err != nil {
			return "", err
		}
		format = f
	}
	if opts.fix && format == report.FormatDiff {
		return "", domainerrors.New(domainerrors.CodeValidationError, "--fix writes files; a diff is a dry run, pick one")
	}
	return format, nil
}

func runAnalyze(cmd *cobra.Command, opts *cliOptions) error {
	format, err := outputFormat(opts)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, opts)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer s.close()

	res, err := s.app.Analyze(ctx, rootsOrCwd(opts.args, s.cfg.Paths), coreapp.RunOptions{Fix: opts.fix || format == report.FormatDiff})
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	written := 0
	var writeErr error
	if opts.fix {
		written, writeErr = coreapp.WriteFixes(res, s.logger)
	}

	cwd, _ := os.Getwd()
	err = report.Write(cmd.OutOrStdout(), format, res, report.Options{
		Fixed:       opts.fix,
		Written:     written,
		ProjectRoot: cwd,
	})
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	if code := exitCodeFor(res, opts.fix, writeErr); code != exitOK {
		return &exitCodeError{code: code, err: writeErr}
	}
	return nil
}

// exitCodeFor ranks run failures above findings. In fix mode, comments that
// were removed are not findings.
func exitCodeFor(res *coreapp.RunResult, fixed bool, writeErr error) int {
	switch {
	case writeErr != nil, res.Cancelled, res.Status == coreapp.StatusPartialFailure:
		return exitError
	case fixed && res.Stats.Redundant > res.Stats.Removed:
		return exitFindings
	case !fixed && res.Stats.Redundant > 0:
		return exitFindings
	}
	return exitOK
}

func runWatch(cmd *cobra.Command, opts *cliOptions) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, opts)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer s.close()

	out := cmd.OutOrStdout()
	roots := rootsOrCwd(opts.args, s.cfg.Paths)
	runOpts := coreapp.RunOptions{Fix: opts.fix}

	var w *watcher.Watcher
	handle := func(res *coreapp.RunResult) {
		written := 0
		if opts.fix {
			for _, f := range res.Files {
				if f.FixedSource != nil && f.FixErr == nil {
					w.Remember(f.Path, f.FixedSource)
				}
			}
			n, werr := coreapp.WriteFixes(res, s.logger)
			if werr != nil {
				s.logger.Error("some fixes were not written", "error", werr)
			}
			written = n
		}
		if err := report.WriteText(out, res, written, opts.fix); err != nil {
			s.logger.Error("failed to render report", "error", err)
		}
	}

	w, err = watcher.NewWatcher(s.cfg.Watch.Debounce, s.cfg.Exclude.Dirs, s.app.Scanner.Accepts, func(paths []string) {
		s.logger.Info("files changed", "count", len(paths))
		res, err := s.app.AnalyzeFiles(ctx, paths, runOpts)
		if err != nil {
			s.logger.Warn("re-analysis failed", "error", err)
			return
		}
		handle(res)
	})
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer w.Close()

	res, err := s.app.Analyze(ctx, roots, runOpts)
	switch {
	case err == nil:
		handle(res)
	case domainerrors.IsCode(err, domainerrors.CodeValidationError):
		s.logger.Info("nothing to analyze yet", "reason", err)
	default:
		return &exitCodeError{code: exitError, err: err}
	}

	if err := w.Watch(roots); err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	s.logger.Info("watching for changes", "paths", roots, "fix", opts.fix)
	<-ctx.Done()
	s.logger.Info("watch stopped")
	return nil
}

func runHealth(cmd *cobra.Command, opts *cliOptions) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, opts)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer s.close()

	status := coreapp.NewHealthService(s.app).Check(ctx)
	if err := report.WriteHealth(cmd.OutOrStdout(), status); err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	if status.Status != "up" {
		return &exitCodeError{code: exitFindings}
	}
	return nil
}
