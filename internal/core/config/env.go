package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: UNREMARK_[SECTION]_[KEY] (e.g., UNREMARK_JUDGE_MODEL). OPENAI_API_KEY
// fills judge.api_key when neither the file nor UNREMARK_JUDGE_API_KEY set it.
func ApplyEnvOverrides(cfg *Config) {
	// Pipeline
	setEnvInt(&cfg.Pipeline.Workers, "UNREMARK_PIPELINE_WORKERS")
	setEnvDuration(&cfg.Pipeline.GracePeriod, "UNREMARK_PIPELINE_GRACE_PERIOD")

	// Judge
	setEnvString(&cfg.Judge.Endpoint, "UNREMARK_JUDGE_ENDPOINT")
	setEnvString(&cfg.Judge.Model, "UNREMARK_JUDGE_MODEL")
	setEnvSecret(&cfg.Judge.APIKey, "UNREMARK_JUDGE_API_KEY")
	setEnvDuration(&cfg.Judge.Timeout, "UNREMARK_JUDGE_TIMEOUT")
	setEnvInt(&cfg.Judge.MaxInFlight, "UNREMARK_JUDGE_MAX_IN_FLIGHT")
	setEnvFloat64(&cfg.Judge.RequestsPerSecond, "UNREMARK_JUDGE_REQUESTS_PER_SECOND")
	if v, ok := os.LookupEnv("UNREMARK_JUDGE_ENABLED"); ok {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			cfg.Judge.Enabled = &b
		}
	}
	if strings.TrimSpace(cfg.Judge.APIKey) == "" {
		setEnvSecret(&cfg.Judge.APIKey, "OPENAI_API_KEY")
	}

	// Cache
	setEnvBool(&cfg.Cache.Persist, "UNREMARK_CACHE_PERSIST")
	setEnvString(&cfg.Cache.Path, "UNREMARK_CACHE_PATH")

	// Observability
	setEnvString(&cfg.Observability.MetricsAddr, "UNREMARK_OBSERVABILITY_METRICS_ADDR")
	setEnvString(&cfg.Observability.OTLPEndpoint, "UNREMARK_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "UNREMARK_OBSERVABILITY_ENABLE_TRACING")

	// Log
	setEnvString(&cfg.Log.Level, "UNREMARK_LOG_LEVEL")
	setEnvString(&cfg.Log.File, "UNREMARK_LOG_FILE")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvSecret(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		slog.Debug("applying env override", "key", key)
		*target = strings.TrimSpace(val)
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
