package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	coreapp "unremark/internal/core/app"
	"unremark/internal/core/config"
	"unremark/internal/shared/version"
	"unremark/internal/ui/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const carJS = "class Car {\n  constructor(make) {\n    // Set the make property\n    this.make = make;\n  }\n}\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_CheckModeReportsFindings(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "car.js")
	writeFile(t, path, carJS)

	code, out, _ := runCLI(t, "--no-judge", root)
	assert.Equal(t, exitFindings, code)
	assert.Contains(t, out, "Files with redundant comments:")
	assert.Contains(t, out, "Line 3: // Set the make property")
	assert.Contains(t, out, "status: ok")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, carJS, string(data))
}

func TestRun_FixRemovesComments(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "car.js")
	writeFile(t, path, carJS)

	code, out, _ := runCLI(t, "--no-judge", "--fix", root)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "1 file written")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Set the make property")
	assert.Contains(t, string(data), "this.make = make;")
}

func TestRun_JSONOutput(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "car.js"), carJS)
	writeFile(t, filepath.Join(root, "keep.rs"), "// Retries are capped because the upstream bans clients that hammer it\nfn retry() {}\n")

	code, out, _ := runCLI(t, "--no-judge", "--json", root)
	assert.Equal(t, exitFindings, code)

	var got report.JSONReport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, 1, got.FilesWithComments)
	assert.Equal(t, 0, got.FilesWithErrors)
	assert.Equal(t, 1, got.TotalRedundantComments)
	require.Len(t, got.Files, 2)

	var car report.JSONFile
	for _, f := range got.Files {
		assert.NotNil(t, f.Errors)
		if filepath.Base(f.Path) == "car.js" {
			car = f
		}
	}
	require.Len(t, car.RedundantComments, 1)
	assert.Equal(t, 3, car.RedundantComments[0].LineNumber)
	assert.Equal(t, "heuristic", car.RedundantComments[0].Source)
}

func TestRun_DiffLeavesFilesUntouched(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "car.js")
	writeFile(t, path, carJS)

	code, out, _ := runCLI(t, "--no-judge", "--diff", root)
	assert.Equal(t, exitFindings, code)
	assert.Contains(t, out, "--- a/"+path)
	assert.Contains(t, out, "+++ b/"+path)
	assert.Contains(t, out, "-    // Set the make property\n")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, carJS, string(data))
}

func TestRun_SARIFOutput(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "car.js"), carJS)

	code, out, _ := runCLI(t, "--no-judge", "--format", "sarif", root)
	assert.Equal(t, exitFindings, code)

	var doc struct {
		Version string `json:"version"`
		Runs    []struct {
			Results []struct {
				RuleID string `json:"ruleId"`
			} `json:"results"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "2.1.0", doc.Version)
	require.Len(t, doc.Runs, 1)
	require.Len(t, doc.Runs[0].Results, 1)
	assert.Equal(t, "UNR001", doc.Runs[0].Results[0].RuleID)
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		name    string
		opts    cliOptions
		want    report.Format
		wantErr bool
	}{
		{"default", cliOptions{format: "text"}, report.FormatText, false},
		{"json shorthand", cliOptions{json: true, format: "text"}, report.FormatJSON, false},
		{"diff shorthand", cliOptions{diff: true, format: "text"}, report.FormatDiff, false},
		{"markdown", cliOptions{format: "md"}, report.FormatMarkdown, false},
		{"fix with diff format", cliOptions{fix: true, format: "diff"}, "", true},
		{"unknown", cliOptions{format: "yaml"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputFormat(&tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_IgnoreFlagSkipsDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vendored", "car.js"), carJS)
	writeFile(t, filepath.Join(root, "main.py"), "def main():\n    pass\n")

	code, out, _ := runCLI(t, "--no-judge", "--json", "--ignore", "vendored", root)
	assert.Equal(t, exitOK, code)

	var got report.JSONReport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.TotalFiles)
	assert.Equal(t, 0, got.TotalRedundantComments)
}

func TestRun_UsageErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "car.js"), carJS)

	tests := []struct {
		name string
		args []string
	}{
		{"fix and diff", []string{"--no-judge", "--fix", "--diff", root}},
		{"json and diff", []string{"--no-judge", "--json", "--diff", root}},
		{"json and format", []string{"--no-judge", "--json", "--format", "sarif", root}},
		{"unknown format", []string{"--no-judge", "--format", "xml", root}},
		{"unknown flag", []string{"--frobnicate", root}},
		{"missing explicit config", []string{"--config", filepath.Join(root, "nope.toml"), root}},
		{"missing root", []string{"--no-judge", filepath.Join(root, "does-not-exist")}},
		{"no supported files", []string{"--no-judge", filepath.Join(root, "car.js.bak")}},
	}
	writeFile(t, filepath.Join(root, "car.js.bak"), carJS)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, exitError, code)
			assert.Contains(t, stderr, "error:")
		})
	}
}

func TestRun_InvalidConfigFile(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "unremark.toml")
	writeFile(t, cfgPath, "[classifier]\nmin_confidence = 3.0\n")
	writeFile(t, filepath.Join(root, "car.js"), carJS)

	code, _, stderr := runCLI(t, "--config", cfgPath, root)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "VALIDATION_ERROR")
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "unremark version")
	assert.Contains(t, out, version.Version)
}

func TestRun_Health(t *testing.T) {
	code, out, _ := runCLI(t, "health", "--no-judge")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "disabled")
	assert.Contains(t, out, "health: up")
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name     string
		res      coreapp.RunResult
		fixed    bool
		writeErr error
		want     int
	}{
		{"clean", coreapp.RunResult{Status: coreapp.StatusOK}, false, nil, exitOK},
		{"findings", coreapp.RunResult{Status: coreapp.StatusOK, Stats: coreapp.Stats{Redundant: 2}}, false, nil, exitFindings},
		{"all removed", coreapp.RunResult{Status: coreapp.StatusOK, Stats: coreapp.Stats{Redundant: 2, Removed: 2}}, true, nil, exitOK},
		{"some kept", coreapp.RunResult{Status: coreapp.StatusOK, Stats: coreapp.Stats{Redundant: 2, Removed: 1}}, true, nil, exitFindings},
		{"judge degraded", coreapp.RunResult{Status: coreapp.StatusJudgeDegraded}, false, nil, exitOK},
		{"partial failure", coreapp.RunResult{Status: coreapp.StatusPartialFailure, Stats: coreapp.Stats{Redundant: 1}}, false, nil, exitError},
		{"cancelled", coreapp.RunResult{Status: coreapp.StatusOK, Cancelled: true}, false, nil, exitError},
		{"write failed", coreapp.RunResult{Status: coreapp.StatusOK}, true, io.ErrShortWrite, exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(&tt.res, tt.fixed, tt.writeErr))
		})
	}
}

func TestRootsOrCwd(t *testing.T) {
	assert.Equal(t, []string{"src"}, rootsOrCwd([]string{"src"}, []string{"lib"}))
	assert.Equal(t, []string{"lib"}, rootsOrCwd(nil, []string{"lib"}))
	assert.Equal(t, []string{"."}, rootsOrCwd(nil, nil))
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Setenv("UNREMARK_JUDGE_MODEL", "local-model")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "unremark.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, "local-model", cfg.Judge.Model)
	assert.Equal(t, config.DefaultIgnoredDirs, cfg.Exclude.Dirs)

	_, err = loadConfig(filepath.Join(t.TempDir(), "unremark.toml"), true)
	require.Error(t, err)
}

func TestApplyOptions(t *testing.T) {
	cfg := config.Default()
	opts := &cliOptions{
		noJudge:     true,
		workers:     3,
		ignore:      []string{"generated"},
		exclude:     []string{"*.min.js"},
		metricsAddr: "127.0.0.1:9100",
		logFile:     "/tmp/unremark.log",
	}
	applyOptions(opts, cfg)

	assert.False(t, cfg.Judge.IsEnabled())
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Contains(t, cfg.Exclude.Dirs, "generated")
	assert.Contains(t, cfg.Exclude.Dirs, "node_modules")
	assert.Equal(t, []string{"*.min.js"}, cfg.Exclude.Files)
	assert.Equal(t, "127.0.0.1:9100", cfg.Observability.MetricsAddr)
	assert.Equal(t, "/tmp/unremark.log", cfg.Log.File)
	assert.NotContains(t, config.DefaultIgnoredDirs, "generated")
}

func TestConfigureLogging_RotatedFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "unremark.log")
	logger, closeFn := configureLogging(config.Log{Level: "warn", File: logPath, MaxSizeMB: 1}, false, io.Discard)
	logger.Info("hidden")
	logger.Warn("visible", "key", "value")
	closeFn()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "msg=visible key=value")
}

func TestObservabilityServer(t *testing.T) {
	cfg := config.Default()
	disabled := false
	cfg.Judge.Enabled = &disabled
	a, err := coreapp.New(cfg)
	require.NoError(t, err)
	defer a.Close()

	srv := NewObservabilityServer("127.0.0.1:0", coreapp.NewHealthService(a), nil)
	require.NoError(t, srv.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status coreapp.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "disabled", status.Components["judge"])

	metrics, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestObservabilityServer_AddressInUse(t *testing.T) {
	first := NewObservabilityServer("127.0.0.1:0", nil, nil)
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	second := NewObservabilityServer(first.Addr(), nil, nil)
	assert.Error(t, second.Start(context.Background()))
}
