package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"unremark/internal/core/app"
	"unremark/internal/core/config"
	"unremark/internal/core/watcher"
	"unremark/internal/engine/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const carJS = "class Car {\n  constructor(make) {\n    // Set the make property\n    this.make = make;\n  }\n}\n"

func createTestFiles(t *testing.T, tmpDir string) {
	t.Helper()
	files := map[string]string{
		"src/car.js":              carJS,
		"src/retry.rs":            "// Retries are capped because the upstream bans clients that hammer it\nfn retry() {}\n",
		"src/shape.py":            "class Rectangle:\n    # Constructor for Rectangle\n    def __init__(self, width, height):\n        self.width = width\n",
		"node_modules/x/index.js": carJS,
	}
	for name, content := range files {
		path := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// fakeJudge answers like a chat-completion endpoint: comments about the make
// property are redundant, everything else is useful.
func fakeJudge(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		answer := `{"is_redundant": false, "confidence": 0.9, "explanation": "adds intent"}`
		if strings.Contains(string(body), "make property") {
			answer = `{"is_redundant": true, "confidence": 0.97, "explanation": "restates the assignment"}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, answer)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func judgeConfig(t *testing.T, endpoint, dbPath string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(fmt.Sprintf(`
[pipeline]
workers = 2

[classifier]
verify_low_confidence = true
min_confidence = 1.0

[judge]
endpoint = %q
api_key = "sk-test"
model = "test-model"
initial_backoff = "1ms"
max_backoff = "5ms"

[cache]
persist = true
path = %q
`, endpoint, dbPath))
	require.NoError(t, err)
	return cfg
}

func findComment(t *testing.T, res *app.RunResult, file, text string) parser.Comment {
	t.Helper()
	for _, f := range res.Files {
		if filepath.Base(f.Path) != file {
			continue
		}
		for _, c := range f.Comments {
			if strings.Contains(c.Text, text) {
				return c
			}
		}
	}
	t.Fatalf("comment %q not found in %s", text, file)
	return parser.Comment{}
}

func TestFullPipelineIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFiles(t, tmpDir)
	srv, hits := fakeJudge(t)
	dbPath := filepath.Join(t.TempDir(), "verdicts.db")

	appInstance, err := app.New(judgeConfig(t, srv.URL, dbPath))
	require.NoError(t, err)

	ctx := context.Background()
	res, err := appInstance.Analyze(ctx, []string{tmpDir}, app.RunOptions{})
	require.NoError(t, err)

	// node_modules is ignored by default
	assert.Equal(t, 3, res.Stats.Files)
	assert.Equal(t, app.StatusOK, res.Status)
	assert.Positive(t, hits.Load())
	assert.Positive(t, res.Stats.JudgeCalls)
	assert.Zero(t, res.Stats.JudgeFallbacks)

	car := findComment(t, res, "car.js", "make property")
	assert.Equal(t, parser.LabelRedundant, car.Verdict.Label)
	assert.Equal(t, parser.SourceJudge, car.Verdict.Source)
	assert.InDelta(t, 0.97, car.Verdict.Confidence, 1e-9)

	retry := findComment(t, res, "retry.rs", "Retries are capped")
	assert.Equal(t, parser.LabelUseful, retry.Verdict.Label)

	firstRunHits := hits.Load()
	require.NoError(t, appInstance.Close())

	// A new process over the same store answers from the persisted verdicts.
	second, err := app.New(judgeConfig(t, srv.URL, dbPath))
	require.NoError(t, err)
	defer second.Close()

	res2, err := second.Analyze(ctx, []string{tmpDir}, app.RunOptions{Fix: true})
	require.NoError(t, err)
	assert.Equal(t, firstRunHits, hits.Load(), "second run must not reach the judge")

	car2 := findComment(t, res2, "car.js", "make property")
	assert.Equal(t, parser.LabelRedundant, car2.Verdict.Label)
	assert.Equal(t, parser.SourceCache, car2.Verdict.Source)

	written, err := app.WriteFixes(res2, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, written, 1)

	data, err := os.ReadFile(filepath.Join(tmpDir, "src", "car.js"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "make property")
	assert.Contains(t, string(data), "this.make = make;")

	vendored, err := os.ReadFile(filepath.Join(tmpDir, "node_modules", "x", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, carJS, string(vendored))

	runs, err := second.Store().RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, res2.RunID, runs[0].RunID)

	health := app.NewHealthService(second).Check(ctx)
	assert.Equal(t, "up", health.Status)
	assert.Contains(t, health.Components["verdict_store"], "last run")
}

func TestJudgeOutageDegradesRun(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFiles(t, tmpDir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := judgeConfig(t, srv.URL, filepath.Join(t.TempDir(), "verdicts.db"))
	cfg.Judge.MaxAttempts = 2
	appInstance, err := app.New(cfg)
	require.NoError(t, err)
	defer appInstance.Close()

	res, err := appInstance.Analyze(context.Background(), []string{tmpDir}, app.RunOptions{Fix: true})
	require.NoError(t, err)
	assert.Equal(t, app.StatusJudgeDegraded, res.Status)
	assert.Positive(t, res.Stats.JudgeFallbacks)

	// The heuristic verdict stands when the double-check fails.
	car := findComment(t, res, "car.js", "make property")
	assert.Equal(t, parser.LabelRedundant, car.Verdict.Label)
	assert.Equal(t, parser.SourceFallback, car.Verdict.Source)
}

func TestWatchModeFixesChangedFiles(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.Default()
	disabled := false
	cfg.Judge.Enabled = &disabled

	appInstance, err := app.New(cfg)
	require.NoError(t, err)
	defer appInstance.Close()

	runs := make(chan *app.RunResult, 4)
	var w *watcher.Watcher
	w, err = watcher.NewWatcher(50*time.Millisecond, cfg.Exclude.Dirs, appInstance.Scanner.Accepts, func(paths []string) {
		res, err := appInstance.AnalyzeFiles(context.Background(), paths, app.RunOptions{Fix: true})
		if err != nil {
			return
		}
		for _, f := range res.Files {
			if f.FixedSource != nil {
				w.Remember(f.Path, f.FixedSource)
			}
		}
		_, _ = app.WriteFixes(res, nil)
		runs <- res
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch([]string{tmpDir}))

	path := filepath.Join(tmpDir, "car.js")
	require.NoError(t, os.WriteFile(path, []byte(carJS), 0o644))

	select {
	case res := <-runs:
		require.Len(t, res.Files, 1)
		assert.Equal(t, 1, res.Files[0].Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for re-analysis")
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "make property")

	// Our own write must not trigger another pass.
	select {
	case res := <-runs:
		t.Fatalf("unexpected re-analysis of %d files", len(res.Files))
	case <-time.After(300 * time.Millisecond):
	}
}
