package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"unremark/internal/core/config"
	"unremark/internal/core/errors"
	"unremark/internal/core/ports"
	"unremark/internal/data/verdicts"
	"unremark/internal/engine/classify"
	"unremark/internal/engine/heuristic"
	"unremark/internal/engine/judge"
	"unremark/internal/engine/parser"

	"github.com/google/uuid"
)

// App wires configuration into the scanner, the pipeline and the judge.
type App struct {
	Config   *config.Config
	Parsers  *parser.GrammarLoader
	Scanner  *Scanner
	Pipeline *Pipeline

	judge  *judge.Client
	store  *verdicts.Store
	logger *slog.Logger
}

type Option func(*appOptions)

type appOptions struct {
	logger     *slog.Logger
	httpClient *http.Client
	store      *verdicts.Store
}

func WithLogger(l *slog.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

// WithHTTPClient overrides the client used to reach the judge.
func WithHTTPClient(h *http.Client) Option {
	return func(o *appOptions) { o.httpClient = h }
}

// WithVerdictStore supplies an already open store instead of opening
// cache.path. The App takes ownership and closes it.
func WithVerdictStore(s *verdicts.Store) Option {
	return func(o *appOptions) { o.store = s }
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := appOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	loader, err := parser.NewGrammarLoaderWithRegistry(buildLanguageRegistry(cfg))
	if err != nil {
		return nil, err
	}
	scanner, err := NewScanner(loader, cfg.Exclude.Dirs, cfg.Exclude.Files, cfg.Pipeline.MaxFileSize, logger)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Parsers: loader, Scanner: scanner, logger: logger}

	store := o.store
	if store == nil && cfg.Cache.Persist && cfg.Judge.IsEnabled() {
		store, err = verdicts.Open(cfg.Cache.Path)
		if err != nil {
			logger.Warn("verdict store unavailable, continuing with memory cache only", "path", cfg.Cache.Path, "error", err)
			store = nil
		} else if cfg.Cache.TTL > 0 {
			if n, err := store.Prune(context.Background(), time.Now().Add(-cfg.Cache.TTL)); err != nil {
				logger.Warn("failed to prune expired verdicts", "error", err)
			} else if n > 0 {
				logger.Debug("pruned expired verdicts", "count", n)
			}
		}
	}
	a.store = store

	var j ports.Judge
	if cfg.Judge.IsEnabled() {
		clientOpts := []judge.Option{judge.WithLogger(logger)}
		if o.httpClient != nil {
			clientOpts = append(clientOpts, judge.WithHTTPClient(o.httpClient))
		}
		if store != nil {
			clientOpts = append(clientOpts, judge.WithStore(store, ""))
		}
		a.judge, err = judge.NewClient(judgeConfig(cfg), clientOpts...)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		j = a.judge
	}

	scorer := heuristic.New(heuristic.Options{
		OverlapThreshold:  cfg.Classifier.OverlapThreshold,
		MaxUntracedTokens: cfg.Classifier.MaxUntracedTokens,
	})
	orch := classify.New(scorer, j, classify.Options{
		MinConfidence:       cfg.Classifier.MinConfidence,
		VerifyLowConfidence: cfg.Classifier.VerifyLowConfidence,
		IncludeDocComments:  cfg.Classifier.IncludeDocComments,
	}, logger)
	a.Pipeline = NewPipeline(loader, orch, PipelineConfig{
		Workers:     cfg.Pipeline.Workers,
		GracePeriod: cfg.Pipeline.GracePeriod,
	}, logger)
	return a, nil
}

func buildLanguageRegistry(cfg *config.Config) map[parser.Language]parser.LanguageSpec {
	registry := parser.DefaultLanguageRegistry()
	for id, lc := range cfg.Languages {
		lang := parser.Language(id)
		spec, ok := registry[lang]
		if !ok {
			continue
		}
		if lc.Enabled != nil {
			spec.Enabled = *lc.Enabled
		}
		if len(lc.Extensions) > 0 {
			spec.Extensions = append([]string(nil), lc.Extensions...)
		}
		registry[lang] = spec
	}
	return registry
}

func judgeConfig(cfg *config.Config) judge.Config {
	j := cfg.Judge
	return judge.Config{
		Endpoint:          j.Endpoint,
		Model:             j.Model,
		APIKey:            j.APIKey,
		Temperature:       j.Temperature,
		Timeout:           j.Timeout,
		MaxAttempts:       j.MaxAttempts,
		InitialBackoff:    j.InitialBackoff,
		MaxBackoff:        j.MaxBackoff,
		MaxInFlight:       j.MaxInFlight,
		RequestsPerSecond: j.RequestsPerSecond,
		Burst:             j.Burst,
		RateLimitCooldown: j.RateLimitCooldown,
		CacheSize:         cfg.Cache.Size,
		CacheTTL:          cfg.Cache.TTL,
	}
}

// Analyze scans roots, runs the pipeline and records the run.
func (a *App) Analyze(ctx context.Context, roots []string, opts RunOptions) (*RunResult, error) {
	paths, err := a.Scanner.Scan(roots)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeFiles(ctx, paths, opts)
}

// AnalyzeFiles runs the pipeline over explicit paths.
func (a *App) AnalyzeFiles(ctx context.Context, paths []string, opts RunOptions) (*RunResult, error) {
	files := a.Scanner.Load(paths)
	if len(files) == 0 {
		return nil, errors.New(errors.CodeValidationError, "no supported source files found")
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	started := time.Now()
	res, err := a.Pipeline.Run(ctx, files, opts)
	if err != nil {
		return nil, err
	}
	a.recordRun(ctx, started, res)
	return res, nil
}

func (a *App) recordRun(ctx context.Context, started time.Time, res *RunResult) {
	if a.store == nil {
		return
	}
	err := a.store.SaveRun(context.WithoutCancel(ctx), verdicts.RunRecord{
		RunID:        res.RunID,
		StartedAt:    started,
		FinishedAt:   started.Add(res.Stats.Duration),
		Status:       string(res.Status),
		FileCount:    res.Stats.Files,
		CommentCount: res.Stats.Comments,
		RemovedCount: res.Stats.Removed,
		JudgeCalls:   res.Stats.JudgeCalls,
	})
	if err != nil {
		a.logger.Warn("failed to record run", "run_id", res.RunID, "error", err)
	}
}

// Judge returns the judge client, or nil when the judge is disabled.
func (a *App) Judge() *judge.Client { return a.judge }

// Store returns the verdict store, or nil when persistence is off.
func (a *App) Store() *verdicts.Store { return a.store }

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
