package config

import (
	"time"
)

type Config struct {
	Version       int                 `toml:"version"`
	Paths         []string            `toml:"paths"`
	Pipeline      Pipeline            `toml:"pipeline"`
	Classifier    Classifier          `toml:"classifier"`
	Judge         Judge               `toml:"judge"`
	Cache         Cache               `toml:"cache"`
	Languages     map[string]Language `toml:"languages"`
	Exclude       Exclude             `toml:"exclude"`
	Watch         Watch               `toml:"watch"`
	Observability Observability       `toml:"observability"`
	Log           Log                 `toml:"log"`
}

type Pipeline struct {
	Workers     int           `toml:"workers"`
	GracePeriod time.Duration `toml:"grace_period"`
	MaxFileSize int64         `toml:"max_file_size"`
}

type Classifier struct {
	OverlapThreshold    float64 `toml:"overlap_threshold"`
	MaxUntracedTokens   int     `toml:"max_untraced_tokens"`
	MinConfidence       float64 `toml:"min_confidence"`
	VerifyLowConfidence bool    `toml:"verify_low_confidence"`
	IncludeDocComments  bool    `toml:"include_doc_comments"`
}

type Judge struct {
	Enabled           *bool         `toml:"enabled"`
	Endpoint          string        `toml:"endpoint"`
	Model             string        `toml:"model"`
	APIKey            string        `toml:"api_key"`
	Temperature       float64       `toml:"temperature"`
	Timeout           time.Duration `toml:"timeout"`
	MaxAttempts       int           `toml:"max_attempts"`
	InitialBackoff    time.Duration `toml:"initial_backoff"`
	MaxBackoff        time.Duration `toml:"max_backoff"`
	MaxInFlight       int           `toml:"max_in_flight"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	RateLimitCooldown time.Duration `toml:"rate_limit_cooldown"`
}

// IsEnabled defaults to true when unset.
func (j Judge) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

type Cache struct {
	Size    int           `toml:"size"`
	TTL     time.Duration `toml:"ttl"`
	Persist bool          `toml:"persist"`
	Path    string        `toml:"path"`
}

type Language struct {
	Enabled    *bool    `toml:"enabled"`
	Extensions []string `toml:"extensions"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Observability struct {
	MetricsAddr   string `toml:"metrics_addr"`
	EnableTracing bool   `toml:"enable_tracing"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	OTLPInsecure  bool   `toml:"otlp_insecure"`
	ServiceName   string `toml:"service_name"`
}

type Log struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DefaultIgnoredDirs are skipped during directory scans unless overridden.
var DefaultIgnoredDirs = []string{".git", "node_modules", "venv", ".venv", "__pycache__", "target"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
