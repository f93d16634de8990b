// Package verdicts persists judge answers and run summaries in sqlite so
// repeated runs over the same code skip the network.
package verdicts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"unremark/internal/core/ports"
	"unremark/internal/engine/parser"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

var _ ports.VerdictStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("verdict store path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("verdict store path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create verdict store directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL reduce lock conflicts when watch mode and a one-shot run overlap.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite verdict store %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite verdict store %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// LoadVerdict returns the verdict stored under key if it was written at or
// after notBefore.
func (s *Store) LoadVerdict(ctx context.Context, key string, notBefore time.Time) (ports.CachedVerdict, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		v     ports.CachedVerdict
		label string
		tsRaw string
	)
	err := s.withRetry("load verdict", func() error {
		return s.db.QueryRowContext(ctx, `
SELECT fingerprint, label, confidence, model, run_id, created_at_utc
FROM verdicts WHERE fingerprint = ?`, key).Scan(&v.Key, &label, &v.Confidence, &v.Model, &v.RunID, &tsRaw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ports.CachedVerdict{}, false, nil
	}
	if err != nil {
		return ports.CachedVerdict{}, false, err
	}

	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return ports.CachedVerdict{}, false, fmt.Errorf("parse verdict timestamp %q: %w", tsRaw, err)
	}
	v.CreatedAt = ts.UTC()
	v.Label = parser.Label(label)
	if !notBefore.IsZero() && v.CreatedAt.Before(notBefore) {
		return ports.CachedVerdict{}, false, nil
	}
	return v, true, nil
}

// SaveVerdict inserts v. Entries are never mutated; an existing fingerprint is
// replaced only by a newer write.
func (s *Store) SaveVerdict(ctx context.Context, v ports.CachedVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(v.Key) == "" {
		return fmt.Errorf("verdict fingerprint must not be empty")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	return s.withRetry("save verdict", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO verdicts (fingerprint, label, confidence, model, run_id, created_at_utc)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
  label=excluded.label,
  confidence=excluded.confidence,
  model=excluded.model,
  run_id=excluded.run_id,
  created_at_utc=excluded.created_at_utc
WHERE excluded.created_at_utc > verdicts.created_at_utc`,
			v.Key, string(v.Label), v.Confidence, v.Model, v.RunID, v.CreatedAt.UTC().Format(time.RFC3339Nano))
		return err
	})
}

// Prune deletes verdicts written before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.withRetry("prune verdicts", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE created_at_utc < ?`, cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// RunRecord summarises one pipeline run.
type RunRecord struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	FileCount    int
	CommentCount int
	RemovedCount int
	JudgeCalls   int
}

func (s *Store) SaveRun(ctx context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("save run", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (
  run_id, started_at_utc, finished_at_utc, status, file_count, comment_count, removed_count, judge_calls
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID,
			r.StartedAt.UTC().Format(time.RFC3339Nano),
			r.FinishedAt.UTC().Format(time.RFC3339Nano),
			r.Status, r.FileCount, r.CommentCount, r.RemovedCount, r.JudgeCalls)
		return err
	})
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	err := s.withRetry("load runs", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `
SELECT run_id, started_at_utc, finished_at_utc, status, file_count, comment_count, removed_count, judge_calls
FROM runs ORDER BY started_at_utc DESC, run_id ASC LIMIT ?`, limit)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunRecord, 0)
	for rows.Next() {
		var r RunRecord
		var startRaw, finishRaw string
		if err := rows.Scan(&r.RunID, &startRaw, &finishRaw, &r.Status, &r.FileCount, &r.CommentCount, &r.RemovedCount, &r.JudgeCalls); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startRaw); err != nil {
			return nil, fmt.Errorf("parse run start %q: %w", startRaw, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishRaw); err != nil {
			return nil, fmt.Errorf("parse run finish %q: %w", finishRaw, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
