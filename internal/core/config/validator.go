package config

import (
	"fmt"
	"net/url"
	"strings"

	"unremark/internal/core/errors"

	"github.com/gobwas/glob"
)

var knownLanguages = map[string]bool{
	"javascript": true, "typescript": true, "tsx": true, "python": true, "rust": true,
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	for _, check := range []func(*Config) error{
		validateVersion,
		validatePipeline,
		validateClassifier,
		validateJudge,
		validateLanguages,
		validateExclude,
		validateLog,
	} {
		if err := check(cfg); err != nil {
			return errors.Wrap(err, errors.CodeValidationError, "invalid config")
		}
	}
	return nil
}

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validatePipeline(cfg *Config) error {
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", cfg.Pipeline.Workers)
	}
	return nil
}

func validateClassifier(cfg *Config) error {
	c := cfg.Classifier
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("classifier.overlap_threshold must be in (0, 1], got %v", c.OverlapThreshold)
	}
	if c.MaxUntracedTokens < 0 {
		return fmt.Errorf("classifier.max_untraced_tokens must be >= 0, got %d", c.MaxUntracedTokens)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("classifier.min_confidence must be in [0, 1], got %v", c.MinConfidence)
	}
	return nil
}

// validateJudge rejects an enabled judge without a usable endpoint. Runtime
// unavailability is not a config error.
func validateJudge(cfg *Config) error {
	j := cfg.Judge
	if !j.IsEnabled() {
		return nil
	}
	endpoint := strings.TrimSpace(j.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("judge.endpoint must not be empty when the judge is enabled")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("judge.endpoint %q must be an absolute http(s) URL", endpoint)
	}
	if j.RequestsPerSecond < 0 {
		return fmt.Errorf("judge.requests_per_second must be >= 0")
	}
	if j.MaxBackoff < j.InitialBackoff {
		return fmt.Errorf("judge.max_backoff must be >= judge.initial_backoff")
	}
	if j.Temperature < 0 || j.Temperature > 2 {
		return fmt.Errorf("judge.temperature must be in [0, 2], got %v", j.Temperature)
	}
	return nil
}

func validateLanguages(cfg *Config) error {
	for id, lang := range cfg.Languages {
		if !knownLanguages[id] {
			return fmt.Errorf("languages.%s is not a supported language", id)
		}
		if lang.Extensions != nil && len(lang.Extensions) == 0 {
			return fmt.Errorf("languages.%s.extensions must not be empty when set", id)
		}
		for _, ext := range lang.Extensions {
			if strings.TrimSpace(ext) == "" {
				return fmt.Errorf("languages.%s.extensions contains an empty entry", id)
			}
		}
	}
	return nil
}

func validateExclude(cfg *Config) error {
	for _, pattern := range append(append([]string{}, cfg.Exclude.Dirs...), cfg.Exclude.Files...) {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func validateLog(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", cfg.Log.Level)
}
