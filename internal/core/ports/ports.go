package ports

import (
	"context"
	"time"

	"unremark/internal/engine/parser"
)

// JudgeRequest is what the semantic judge sees for one comment.
type JudgeRequest struct {
	Text      string
	Signature string
	Context   string
	Language  parser.Language
	Line      int
}

// JudgeAnswer is a judge classification. Source is Judge for a fresh answer
// and Cache when served from the memory cache or the verdict store.
type JudgeAnswer struct {
	Label       parser.Label
	Confidence  float64
	Source      parser.VerdictSource
	Explanation string
}

// Judge abstracts the external classification service. Implementations must
// return typed judge errors (see core/errors) so callers can fall back.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (JudgeAnswer, error)
}

// CachedVerdict is a persisted judge answer keyed by request fingerprint.
type CachedVerdict struct {
	Key        string
	Label      parser.Label
	Confidence float64
	Model      string
	RunID      string
	CreatedAt  time.Time
}

// VerdictStore persists judge answers across runs.
type VerdictStore interface {
	LoadVerdict(ctx context.Context, key string, notBefore time.Time) (CachedVerdict, bool, error)
	SaveVerdict(ctx context.Context, v CachedVerdict) error
	Close() error
}

// SourceParser abstracts language detection and adapter lookup.
type SourceParser interface {
	DetectLanguage(path string) parser.Language
	Adapter(lang parser.Language) (parser.Adapter, bool)
	SupportedExtensions() []string
}

type runIDKey struct{}

// WithRunID tags ctx with the id of the pipeline run it belongs to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run id carried by ctx, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
