package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"unremark/internal/core/errors"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "read config"), errors.CtxPath, path)
	}
	return Parse(string(data))
}

// Parse decodes TOML text, applies defaults and validates the result.
func Parse(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "decode config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.New(errors.CodeValidationError, "unknown config keys: "+strings.Join(keys, ", "))
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = runtime.NumCPU()
	}
	if cfg.Pipeline.GracePeriod <= 0 {
		cfg.Pipeline.GracePeriod = 5 * time.Second
	}
	if cfg.Pipeline.MaxFileSize <= 0 {
		cfg.Pipeline.MaxFileSize = 2 << 20
	}

	if cfg.Classifier.OverlapThreshold == 0 {
		cfg.Classifier.OverlapThreshold = 0.5
	}
	if cfg.Classifier.MaxUntracedTokens == 0 {
		cfg.Classifier.MaxUntracedTokens = 3
	}
	if cfg.Classifier.MinConfidence == 0 {
		cfg.Classifier.MinConfidence = 0.8
	}

	if strings.TrimSpace(cfg.Judge.Endpoint) == "" && cfg.Judge.IsEnabled() {
		cfg.Judge.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if strings.TrimSpace(cfg.Judge.Model) == "" {
		cfg.Judge.Model = "gpt-4o-mini"
	}
	if cfg.Judge.Timeout <= 0 {
		cfg.Judge.Timeout = 30 * time.Second
	}
	if cfg.Judge.MaxAttempts <= 0 {
		cfg.Judge.MaxAttempts = 3
	}
	if cfg.Judge.InitialBackoff <= 0 {
		cfg.Judge.InitialBackoff = time.Second
	}
	if cfg.Judge.MaxBackoff <= 0 {
		cfg.Judge.MaxBackoff = 8 * time.Second
	}
	if cfg.Judge.MaxInFlight <= 0 {
		cfg.Judge.MaxInFlight = 8
	}
	if cfg.Judge.RequestsPerSecond == 0 {
		cfg.Judge.RequestsPerSecond = 5
	}
	if cfg.Judge.Burst <= 0 {
		cfg.Judge.Burst = 5
	}
	if cfg.Judge.RateLimitCooldown <= 0 {
		cfg.Judge.RateLimitCooldown = 10 * time.Second
	}

	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 4096
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 7 * 24 * time.Hour
	}
	if strings.TrimSpace(cfg.Cache.Path) == "" {
		cfg.Cache.Path = defaultCachePath()
	}

	if cfg.Exclude.Dirs == nil {
		cfg.Exclude.Dirs = append([]string(nil), DefaultIgnoredDirs...)
	}

	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}

	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "unremark"
	}
	if strings.TrimSpace(cfg.Observability.OTLPEndpoint) == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}

	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 28
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = ".cache"
	}
	return filepath.Join(dir, "unremark", "verdicts.db")
}
