package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unremark_parsing_seconds",
		Help:    "Time spent parsing a source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	ParsersInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "unremark_parsers_in_use",
		Help: "Tree-sitter parsers currently leased from a pool.",
	}, []string{"language"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unremark_analysis_seconds",
		Help:    "Time spent on pipeline stages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	FilesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unremark_files_processed_total",
		Help: "Files processed by the pipeline, by outcome.",
	}, []string{"outcome"})

	CommentsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unremark_comments_classified_total",
		Help: "Comments classified, by final label and verdict source.",
	}, []string{"label", "source"})

	CommentsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unremark_comments_removed_total",
		Help: "Comments removed by fix mode.",
	})

	RewriteViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unremark_rewrite_violations_total",
		Help: "Rewrites rejected because the token stream changed.",
	})

	JudgeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unremark_judge_requests_total",
		Help: "Judge lookups, by outcome (ok, cache_hit, store_hit or an error code).",
	}, []string{"outcome"})

	JudgeLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "unremark_judge_latency_seconds",
		Help:    "Latency of a single judge HTTP attempt.",
		Buckets: prometheus.DefBuckets,
	})

	JudgeRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unremark_judge_retries_total",
		Help: "Judge attempts retried after a transient failure.",
	})

	JudgeCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unremark_judge_cooldowns_total",
		Help: "Rate-limit cooldowns entered after a 429 response.",
	})

	JudgeInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unremark_judge_in_flight",
		Help: "Judge HTTP requests currently in flight.",
	})

	JudgeCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unremark_judge_cache_entries",
		Help: "Entries held in the in-memory judge cache.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unremark_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
